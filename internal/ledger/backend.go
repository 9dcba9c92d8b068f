package ledger

import (
	"context"
	"sync"

	"github.com/roach88/replisync/internal/ir"
)

// Backend stores change history entries.
//
// Implementations must be safe for concurrent use. The Ledger layered on top
// provides the sync-level locking; a Backend only needs to keep its own data
// structures consistent.
type Backend interface {
	// Append writes entries and returns the ones actually written, with
	// sequence ids assigned. An entry whose (article, replica, version) is
	// already present is skipped, which makes re-recording idempotent.
	Append(ctx context.Context, entries ...ir.ChangeEntry) ([]ir.ChangeEntry, error)

	// Entries returns the article's entries ordered by sequence id.
	Entries(ctx context.Context, article ir.ArticleID) ([]ir.ChangeEntry, error)

	// Anchor returns the highest version per replica for the article.
	Anchor(ctx context.Context, article ir.ArticleID) (ir.Anchor, error)

	// Truncate deletes, for each replica in ceilings, the entries of the
	// article whose version is below that replica's ceiling. Entries at or
	// above the ceiling are kept. Returns the number deleted.
	Truncate(ctx context.Context, article ir.ArticleID, ceilings ir.Anchor) (int, error)
}

type entryID struct {
	article ir.ArticleID
	replica ir.ReplicaID
	version ir.Version
}

// MemoryBackend keeps entries in a slice.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type MemoryBackend struct {
	mu      sync.Mutex
	nextSeq int64
	entries []ir.ChangeEntry
	index   map[entryID]struct{}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{index: make(map[entryID]struct{})}
}

// Append implements Backend.
func (b *MemoryBackend) Append(_ context.Context, entries ...ir.ChangeEntry) ([]ir.ChangeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := make([]ir.ChangeEntry, 0, len(entries))
	for _, e := range entries {
		id := entryID{e.Article, e.Replica, e.Version}
		if _, dup := b.index[id]; dup {
			continue
		}
		b.nextSeq++
		e.SequenceID = b.nextSeq
		b.entries = append(b.entries, e)
		b.index[id] = struct{}{}
		written = append(written, e)
	}
	return written, nil
}

// Entries implements Backend.
func (b *MemoryBackend) Entries(_ context.Context, article ir.ArticleID) ([]ir.ChangeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ir.ChangeEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Article == article {
			out = append(out, e)
		}
	}
	return out, nil
}

// Anchor implements Backend.
func (b *MemoryBackend) Anchor(_ context.Context, article ir.ArticleID) (ir.Anchor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a := ir.NewAnchor()
	for _, e := range b.entries {
		if e.Article == article {
			a.Observe(e.Replica, e.Version)
		}
	}
	return a, nil
}

// Truncate implements Backend.
func (b *MemoryBackend) Truncate(_ context.Context, article ir.ArticleID, ceilings ir.Anchor) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	deleted := 0
	for _, e := range b.entries {
		ceiling, tracked := ceilings[e.Replica]
		if e.Article == article && tracked && e.Version < ceiling {
			delete(b.index, entryID{e.Article, e.Replica, e.Version})
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped entries are not retained by the backing array.
	clear(b.entries[len(kept):])
	b.entries = kept
	return deleted, nil
}

// Len returns the total number of stored entries across articles.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
