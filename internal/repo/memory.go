package repo

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

// Memory is an in-memory Repository.
//
// Values are copied in and out through the optional clone function, so a
// caller mutating a returned entity never changes stored state. Supply a
// clone for entity types that contain maps or slices.
type Memory[T any] struct {
	Notifier[T]

	keyOf func(T) ir.Key
	clone func(T) T
	lock  *synclock.Lock
	rows  map[ir.Key]T
}

// MemoryOption configures a Memory repository.
type MemoryOption[T any] func(*Memory[T])

// WithClone sets the function used to copy values across the API boundary.
func WithClone[T any](clone func(T) T) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.clone = clone
	}
}

// WithLock replaces the default lock, for example to share a timeout.
func WithLock[T any](l *synclock.Lock) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.lock = l
	}
}

// NewMemory creates an empty in-memory repository keyed by keyOf.
func NewMemory[T any](name string, keyOf func(T) ir.Key, opts ...MemoryOption[T]) *Memory[T] {
	m := &Memory[T]{
		keyOf: keyOf,
		clone: func(v T) T { return v },
		rows:  make(map[ir.Key]T),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lock == nil {
		m.lock = synclock.New(name)
	}
	return m
}

// NewRecordMemory creates an in-memory repository of ir.Record values.
func NewRecordMemory(name string, opts ...MemoryOption[ir.Record]) *Memory[ir.Record] {
	opts = append([]MemoryOption[ir.Record]{WithClone(ir.Record.Clone)}, opts...)
	return NewMemory(name, func(r ir.Record) ir.Key { return r.Key }, opts...)
}

// Lock implements Repository.
func (m *Memory[T]) Lock() *synclock.Lock {
	return m.lock
}

// Get implements Repository.
func (m *Memory[T]) Get(ctx context.Context, key ir.Key) (T, bool, error) {
	_, release, err := m.lock.AcquireRead(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	defer release()

	v, ok := m.rows[key]
	if !ok {
		var zero T
		return zero, false, nil
	}
	return m.clone(v), true, nil
}

// All implements Repository.
func (m *Memory[T]) All(ctx context.Context) ([]T, error) {
	_, release, err := m.lock.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	keys := make([]ir.Key, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ir.Key) int { return bytes.Compare(a[:], b[:]) })

	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = m.clone(m.rows[k])
	}
	return out, nil
}

// Len returns the number of stored entities.
func (m *Memory[T]) Len(ctx context.Context) (int, error) {
	_, release, err := m.lock.AcquireRead(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return len(m.rows), nil
}

// Insert implements Repository.
func (m *Memory[T]) Insert(ctx context.Context, v T) error {
	key := m.keyOf(v)
	return m.mutate(ctx, ir.ActionInsert, key, v, func(_ T, exists bool) error {
		if exists {
			return fmt.Errorf("insert %s: %w", key, ErrExists)
		}
		return nil
	})
}

// Update implements Repository.
func (m *Memory[T]) Update(ctx context.Context, v T) error {
	key := m.keyOf(v)
	return m.mutate(ctx, ir.ActionUpdate, key, v, func(_ T, exists bool) error {
		if !exists {
			return fmt.Errorf("update %s: %w", key, ErrNotFound)
		}
		return nil
	})
}

// Delete implements Repository.
func (m *Memory[T]) Delete(ctx context.Context, key ir.Key) error {
	var zero T
	return m.mutate(ctx, ir.ActionDelete, key, zero, func(_ T, exists bool) error {
		if !exists {
			return fmt.Errorf("delete %s: %w", key, ErrNotFound)
		}
		return nil
	})
}

// mutate applies one change under the write lock, notifies subscribers, and
// restores the previous row if a subscriber fails.
func (m *Memory[T]) mutate(ctx context.Context, action ir.Action, key ir.Key, v T, check func(prev T, exists bool) error) error {
	lockedCtx, release, err := m.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	prev, exists := m.rows[key]
	if err := check(prev, exists); err != nil {
		return err
	}

	if action == ir.ActionDelete {
		delete(m.rows, key)
	} else {
		m.rows[key] = m.clone(v)
	}

	if err := m.Notify(lockedCtx, Event[T]{Action: action, Key: key, Value: m.clone(v)}); err != nil {
		if exists {
			m.rows[key] = prev
		} else {
			delete(m.rows, key)
		}
		return fmt.Errorf("%s %s: %w", action, key, err)
	}
	return nil
}
