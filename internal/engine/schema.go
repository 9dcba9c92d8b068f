package engine

import (
	"slices"

	"github.com/roach88/replisync/internal/ir"
)

// Schema describes how the merge engine handles one entity type: how to
// find its key, how to copy it, and how to bring a local value in line with
// a remote one.
type Schema[T any] interface {
	// Key returns the entity's key.
	Key(v T) ir.Key

	// Clone returns a copy that shares no mutable state with v.
	Clone(v T) T

	// Reconcile assigns every field of src that differs onto dst and
	// returns the names of the fields it changed, sorted. Key fields are
	// never assigned.
	Reconcile(dst *T, src T) []string
}

// Field is one read-write, non-key field of an entity type.
type Field[T any] struct {
	Name   string
	Equal  func(a, b *T) bool
	Assign func(dst, src *T)
}

// FieldOf declares a comparable field reached through get.
func FieldOf[T any, V comparable](name string, get func(*T) *V) Field[T] {
	return Field[T]{
		Name:   name,
		Equal:  func(a, b *T) bool { return *get(a) == *get(b) },
		Assign: func(dst, src *T) { *get(dst) = *get(src) },
	}
}

// FieldSchema is a Schema built from an explicit field list.
type FieldSchema[T any] struct {
	keyOf  func(T) ir.Key
	clone  func(T) T
	fields []Field[T]
}

// Fields builds a schema for T. Values are copied by assignment unless
// WithCloneFunc is used.
func Fields[T any](keyOf func(T) ir.Key, fields ...Field[T]) *FieldSchema[T] {
	return &FieldSchema[T]{
		keyOf:  keyOf,
		clone:  func(v T) T { return v },
		fields: slices.Clone(fields),
	}
}

// WithCloneFunc sets a deep copy function for types holding references.
func (s *FieldSchema[T]) WithCloneFunc(clone func(T) T) *FieldSchema[T] {
	s.clone = clone
	return s
}

// Key implements Schema.
func (s *FieldSchema[T]) Key(v T) ir.Key {
	return s.keyOf(v)
}

// Clone implements Schema.
func (s *FieldSchema[T]) Clone(v T) T {
	return s.clone(v)
}

// Reconcile implements Schema.
func (s *FieldSchema[T]) Reconcile(dst *T, src T) []string {
	var changed []string
	for _, f := range s.fields {
		if f.Equal(dst, &src) {
			continue
		}
		f.Assign(dst, &src)
		changed = append(changed, f.Name)
	}
	slices.Sort(changed)
	return changed
}

// RecordSchema is the schema of ir.Record, whose field set is dynamic.
// A field present locally but absent remotely is removed.
type RecordSchema struct{}

// Records returns the schema for ir.Record.
func Records() RecordSchema {
	return RecordSchema{}
}

// Key implements Schema.
func (RecordSchema) Key(r ir.Record) ir.Key {
	return r.Key
}

// Clone implements Schema.
func (RecordSchema) Clone(r ir.Record) ir.Record {
	return r.Clone()
}

// Reconcile implements Schema.
func (RecordSchema) Reconcile(dst *ir.Record, src ir.Record) []string {
	var changed []string
	if dst.Fields == nil {
		dst.Fields = ir.Fields{}
	}
	for name, v := range src.Fields {
		if cur, ok := dst.Fields[name]; ok && ir.ValueEqual(cur, v) {
			continue
		}
		dst.Fields[name] = v
		changed = append(changed, name)
	}
	for name := range dst.Fields {
		if _, ok := src.Fields[name]; !ok {
			delete(dst.Fields, name)
			changed = append(changed, name)
		}
	}
	slices.Sort(changed)
	return changed
}
