package repo

import (
	"context"
	"slices"
	"sync"
)

// Notifier fans mutation events out to subscribed handlers in subscription
// order. Store implementations embed it.
//
// Thread-safety: safe for concurrent use.
type Notifier[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler[T]
}

// Subscribe registers h. See Repository.Subscribe.
func (n *Notifier[T]) Subscribe(h Handler[T]) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.handlers == nil {
		n.handlers = make(map[int]Handler[T])
	}
	id := n.nextID
	n.nextID++
	n.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.handlers, id)
		})
	}
}

// Notify delivers ev to every handler and stops at the first error.
func (n *Notifier[T]) Notify(ctx context.Context, ev Event[T]) error {
	for _, h := range n.snapshot() {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered handlers.
func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handlers)
}

// snapshot copies handlers so they run without holding mu; a handler may
// subscribe or unsubscribe.
func (n *Notifier[T]) snapshot() []Handler[T] {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]int, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Handler[T], len(ids))
	for i, id := range ids {
		out[i] = n.handlers[id]
	}
	return out
}
