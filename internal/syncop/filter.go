package syncop

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/roach88/replisync/internal/ir"
)

// Filter transforms a delta between resolve and accept. Filters may
// project or restrict changes, or simulate a serialization boundary.
//
// A change a filter drops is treated as seen once the target applies a
// later version of the same origin replica.
type Filter[T any] func(ir.Delta[T]) (ir.Delta[T], error)

// Compose chains filters left to right.
func Compose[T any](filters ...Filter[T]) Filter[T] {
	return func(d ir.Delta[T]) (ir.Delta[T], error) {
		var err error
		for _, f := range filters {
			if d, err = f(d); err != nil {
				return ir.Delta[T]{}, err
			}
		}
		return d, nil
	}
}

// Where keeps the changes for which keep returns true. Tombstones are
// passed to keep with a zero entity.
func Where[T any](keep func(ir.EntityVersion[T]) bool) Filter[T] {
	return func(d ir.Delta[T]) (ir.Delta[T], error) {
		out := ir.Delta[T]{Anchor: d.Anchor, Changes: make([]ir.EntityVersion[T], 0, len(d.Changes))}
		for _, c := range d.Changes {
			if keep(c) {
				out.Changes = append(out.Changes, c)
			}
		}
		return out, nil
	}
}

// Project rewrites every live entity. Tombstones are left alone.
func Project[T any](f func(T) T) Filter[T] {
	return func(d ir.Delta[T]) (ir.Delta[T], error) {
		out := ir.Delta[T]{Anchor: d.Anchor, Changes: make([]ir.EntityVersion[T], len(d.Changes))}
		for i, c := range d.Changes {
			if !c.Tombstone {
				c.Entity = f(c.Entity)
			}
			out.Changes[i] = c
		}
		return out, nil
	}
}

// SerializationBoundary round-trips the delta through JSON and snappy, as
// if it had crossed the wire. The target gets no memory shared with the
// source.
func SerializationBoundary[T any]() Filter[T] {
	return func(d ir.Delta[T]) (ir.Delta[T], error) {
		frame, err := EncodeDelta(d)
		if err != nil {
			return ir.Delta[T]{}, err
		}
		return DecodeDelta[T](frame)
	}
}

// EncodeDelta returns the snappy-compressed JSON form of d.
func EncodeDelta[T any](d ir.Delta[T]) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeDelta reverses EncodeDelta.
func DecodeDelta[T any](frame []byte) (ir.Delta[T], error) {
	raw, err := snappy.Decode(nil, frame)
	if err != nil {
		return ir.Delta[T]{}, fmt.Errorf("decode delta: %w", err)
	}
	var d ir.Delta[T]
	if err := json.Unmarshal(raw, &d); err != nil {
		return ir.Delta[T]{}, fmt.Errorf("decode delta: %w", err)
	}
	if d.Anchor == nil {
		d.Anchor = ir.NewAnchor()
	}
	return d, nil
}
