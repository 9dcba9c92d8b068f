package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/replisync/internal/ir"
)

// DefaultCacheSize bounds the number of memoized deltas per revision.
const DefaultCacheSize = 64

// CachingSource memoizes ResolveDelta by anchor. Every other method is the
// wrapped provider's.
//
// Entries are keyed by the canonical anchor hash and are valid for one
// ledger revision. Any ledger write, local or merged, invalidates them all.
type CachingSource[T any] struct {
	*Provider[T]

	mu       sync.Mutex
	revision int64
	size     int
	deltas   map[string]ir.Delta[T]
	hits     int
	misses   int
}

// NewCachingSource wraps p. A size of 0 or less uses DefaultCacheSize.
func NewCachingSource[T any](p *Provider[T], size int) *CachingSource[T] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachingSource[T]{
		Provider: p,
		revision: -1,
		size:     size,
		deltas:   make(map[string]ir.Delta[T]),
	}
}

// ResolveDelta returns a memoized delta when the ledger is unchanged since
// it was computed. The returned Changes slice is a copy; entity values are
// shared with the cache and must not be mutated.
func (c *CachingSource[T]) ResolveDelta(ctx context.Context, remote ir.Anchor) (ir.Delta[T], error) {
	key := ir.AnchorHash(remote)
	revision := c.ledger.Revision()

	c.mu.Lock()
	if c.revision != revision {
		clear(c.deltas)
		c.revision = revision
	}
	if d, ok := c.deltas[key]; ok {
		c.hits++
		c.mu.Unlock()
		return copyDelta(d), nil
	}
	c.misses++
	c.mu.Unlock()

	d, err := c.Provider.ResolveDelta(ctx, remote)
	if err != nil {
		return ir.Delta[T]{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A write between reading the revision and resolving makes d newer than
	// the revision it would be filed under; skip caching it.
	if c.revision == revision && c.ledger.Revision() == revision {
		if len(c.deltas) >= c.size {
			clear(c.deltas)
		}
		c.deltas[key] = d
	}
	return copyDelta(d), nil
}

// Stats returns cache hits and misses since construction.
func (c *CachingSource[T]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func copyDelta[T any](d ir.Delta[T]) ir.Delta[T] {
	return ir.Delta[T]{Anchor: d.Anchor.Clone(), Changes: slices.Clone(d.Changes)}
}
