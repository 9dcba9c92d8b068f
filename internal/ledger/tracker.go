package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/repo"
)

// Tracker records every mutation of a repository in a ledger, attributed to
// the local replica.
//
// Tracking can be suspended. Suspensions nest: tracking resumes only when
// every Suspend has been matched by its resume call.
type Tracker[T any] struct {
	ledger      *Ledger
	replica     ir.ReplicaID
	depth       atomic.Int32
	unsubscribe func()
}

// Track subscribes a tracker to r. Call Close to stop tracking.
func Track[T any](r repo.Repository[T], l *Ledger, replica ir.ReplicaID) *Tracker[T] {
	t := &Tracker[T]{ledger: l, replica: replica}
	t.unsubscribe = r.Subscribe(t.handle)
	return t
}

// Ledger returns the ledger the tracker writes to.
func (t *Tracker[T]) Ledger() *Ledger {
	return t.ledger
}

// Replica returns the replica mutations are attributed to.
func (t *Tracker[T]) Replica() ir.ReplicaID {
	return t.replica
}

// Suspend stops recording until the returned function is called.
// Calling the returned function more than once has no further effect.
func (t *Tracker[T]) Suspend() (resume func()) {
	t.depth.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.depth.Add(-1) })
	}
}

// Suspended reports whether at least one suspension is active.
func (t *Tracker[T]) Suspended() bool {
	return t.depth.Load() > 0
}

// Close unsubscribes from the repository.
func (t *Tracker[T]) Close() {
	t.unsubscribe()
}

func (t *Tracker[T]) handle(ctx context.Context, ev repo.Event[T]) error {
	if t.Suspended() {
		return nil
	}
	_, err := t.ledger.AppendLocal(ctx, t.replica, ev.Key, ev.Action)
	return err
}
