package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

// Ledger is the change history of one article.
//
// Reads take the ledger's read lock and writes take its write lock, so a
// delta computed under the read lock is consistent with the anchor reported
// alongside it. Callers that also hold the repository lock must acquire it
// first: the order is always repository, then ledger.
type Ledger struct {
	backend  Backend
	article  ir.ArticleID
	lock     *synclock.Lock
	revision atomic.Int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLock replaces the ledger's lock, for example to share one across
// ledgers or to shorten the timeout in tests.
func WithLock(l *synclock.Lock) Option {
	return func(led *Ledger) {
		led.lock = l
	}
}

// New creates a ledger for article over backend.
func New(backend Backend, article ir.ArticleID, opts ...Option) *Ledger {
	l := &Ledger{backend: backend, article: article}
	for _, opt := range opts {
		opt(l)
	}
	if l.lock == nil {
		l.lock = synclock.New(fmt.Sprintf("ledger/%d", article))
	}
	return l
}

// Article returns the article this ledger records.
func (l *Ledger) Article() ir.ArticleID {
	return l.article
}

// Lock returns the lock guarding the ledger.
func (l *Ledger) Lock() *synclock.Lock {
	return l.lock
}

// Revision increments every time entries are written or removed.
// Caches keyed on ledger contents compare it to detect staleness.
func (l *Ledger) Revision() int64 {
	return l.revision.Load()
}

// LastAnchor returns the highest recorded version per replica.
func (l *Ledger) LastAnchor(ctx context.Context) (ir.Anchor, error) {
	ctx, release, err := l.lock.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.backend.Anchor(ctx, l.article)
}

// Entries returns every entry in sequence order.
func (l *Ledger) Entries(ctx context.Context) ([]ir.ChangeEntry, error) {
	ctx, release, err := l.lock.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.backend.Entries(ctx, l.article)
}

// Snapshot returns the anchor together with the entries not covered by
// since, read under a single read hold. Entries are ordered ascending by
// version. A nil or empty since selects everything.
func (l *Ledger) Snapshot(ctx context.Context, since ir.Anchor) (ir.Anchor, []ir.ChangeEntry, error) {
	ctx, release, err := l.lock.AcquireRead(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	entries, err := l.backend.Entries(ctx, l.article)
	if err != nil {
		return nil, nil, err
	}
	anchor := ir.NewAnchor()
	unseen := make([]ir.ChangeEntry, 0, len(entries))
	for _, e := range entries {
		anchor.Observe(e.Replica, e.Version)
		if !since.Covers(e.Replica, e.Version) {
			unseen = append(unseen, e)
		}
	}
	slices.SortStableFunc(unseen, ir.CompareEntries)
	return anchor, unseen, nil
}

// Unseen returns the entries not covered by since, ascending by version.
func (l *Ledger) Unseen(ctx context.Context, since ir.Anchor) ([]ir.ChangeEntry, error) {
	_, entries, err := l.Snapshot(ctx, since)
	return entries, err
}

// AppendLocal records a mutation made on replica. The version is one past
// the replica's current maximum, assigned under the write lock so
// concurrent appends never collide.
func (l *Ledger) AppendLocal(ctx context.Context, replica ir.ReplicaID, key ir.Key, action ir.Action) (ir.ChangeEntry, error) {
	ctx, release, err := l.lock.AcquireWrite(ctx)
	if err != nil {
		return ir.ChangeEntry{}, err
	}
	defer release()

	anchor, err := l.backend.Anchor(ctx, l.article)
	if err != nil {
		return ir.ChangeEntry{}, err
	}
	entry := ir.ChangeEntry{
		Article: l.article,
		Replica: replica,
		Version: anchor.Get(replica) + 1,
		Key:     key,
		Action:  action,
	}
	written, err := l.backend.Append(ctx, entry)
	if err != nil {
		return ir.ChangeEntry{}, fmt.Errorf("append local change: %w", err)
	}
	if len(written) == 0 {
		return entry, fmt.Errorf("append local change: version %d of replica %d already recorded", entry.Version, replica)
	}
	l.revision.Add(1)
	slog.Debug("change recorded",
		"article", l.article,
		"replica", replica,
		"version", entry.Version,
		"key", key,
		"action", action,
	)
	return written[0], nil
}

// Record mirrors entries that originated elsewhere, keeping their replica
// and version. Entries already present are skipped. Returns how many were
// written.
func (l *Ledger) Record(ctx context.Context, entries ...ir.ChangeEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ctx, release, err := l.lock.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	mirrored := make([]ir.ChangeEntry, len(entries))
	for i, e := range entries {
		m := e.Mirror()
		m.Article = l.article
		mirrored[i] = m
	}
	written, err := l.backend.Append(ctx, mirrored...)
	if err != nil {
		return 0, fmt.Errorf("record changes: %w", err)
	}
	if len(written) > 0 {
		l.revision.Add(1)
	}
	return len(written), nil
}

// Truncate removes the entries of each replica in ceilings whose version is
// below that replica's ceiling. Newer entries are kept, so changes not yet
// delivered survive. The anchor is unchanged. Returns how many entries were
// removed.
func (l *Ledger) Truncate(ctx context.Context, ceilings ir.Anchor) (int, error) {
	if len(ceilings) == 0 {
		return 0, nil
	}
	ctx, release, err := l.lock.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := l.backend.Truncate(ctx, l.article, ceilings)
	if err != nil {
		return 0, fmt.Errorf("truncate change history: %w", err)
	}
	if n > 0 {
		l.revision.Add(1)
		slog.Debug("change history truncated",
			"article", l.article,
			"ceilings", ceilings,
			"removed", n,
		)
	}
	return n, nil
}
