// Package repo defines the entity store contract the sync engine runs
// against, plus an in-memory implementation.
//
// The engine never assumes a backing store. It needs get/enumerate,
// insert/update/delete, per-operation change notifications, and the store's
// reader/writer lock. Mutations take the store's write lock themselves; a
// caller that already holds it (through the context returned by
// synclock.Lock.AcquireWrite) re-enters without blocking.
package repo

import (
	"context"
	"errors"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

var (
	// ErrNotFound is returned by Update and Delete for a missing key.
	ErrNotFound = errors.New("entity not found")

	// ErrExists is returned by Insert for a key that is already present.
	ErrExists = errors.New("entity already exists")
)

// Event describes one committed mutation.
type Event[T any] struct {
	Action ir.Action
	Key    ir.Key
	Value  T // zero for deletes
}

// Handler receives mutation events. Handlers run synchronously while the
// store's write lock is held; ctx carries that hold. A handler error undoes
// the mutation and is returned to the mutating caller.
type Handler[T any] func(ctx context.Context, ev Event[T]) error

// Repository is the entity store a provider synchronizes.
type Repository[T any] interface {
	// Get returns the entity for key and whether it exists.
	Get(ctx context.Context, key ir.Key) (T, bool, error)

	// All returns every entity ordered by key.
	All(ctx context.Context) ([]T, error)

	// Insert adds a new entity.
	Insert(ctx context.Context, v T) error

	// Update replaces an existing entity.
	Update(ctx context.Context, v T) error

	// Delete removes an entity.
	Delete(ctx context.Context, key ir.Key) error

	// Subscribe registers h for mutation events. The returned function
	// removes the registration and is safe to call more than once.
	Subscribe(h Handler[T]) (unsubscribe func())

	// Lock returns the reader/writer lock guarding the store.
	Lock() *synclock.Lock
}
