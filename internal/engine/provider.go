package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
	"github.com/roach88/replisync/internal/repo"
)

// Provider is one replica's view of one article: a repository, the ledger
// recording its changes, and the tracker connecting them. It plays both the
// source and the target role of a sync operation.
//
// Locking: LastAnchor and ResolveDelta take the repository read lock, then
// the ledger read lock. AcceptChanges takes the repository write lock, then
// the ledger write lock, for its whole critical section. The order is the
// same everywhere so the two never deadlock against each other.
//
// Thread-safety: all methods are safe for concurrent use.
type Provider[T any] struct {
	replica  ir.Replica
	repo     repo.Repository[T]
	ledger   *ledger.Ledger
	tracker  *ledger.Tracker[T]
	schema   Schema[T]
	strategy Strategy
	caps     ir.Capabilities
	logger   *slog.Logger

	keysMu     sync.Mutex
	keys       *KeySequence
	keysLoaded bool
}

type providerConfig struct {
	strategy Strategy
	cleanup  bool
	readOnly bool
	logger   *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerConfig)

// WithStrategy sets the conflict strategy.
//
// Default: StrategyFail
func WithStrategy(s Strategy) ProviderOption {
	return func(c *providerConfig) {
		c.strategy = s
	}
}

// WithMetadataCleanup makes the provider truncate its ledger after each
// accepted delta and advertise the MetadataCleanup capability. Only enable
// it on replicas that never serve history to others.
func WithMetadataCleanup() ProviderOption {
	return func(c *providerConfig) {
		c.cleanup = true
	}
}

// ReadOnly makes the provider a pure source: AcceptChanges returns an
// UNSUPPORTED error.
func ReadOnly() ProviderOption {
	return func(c *providerConfig) {
		c.readOnly = true
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ProviderOption {
	return func(c *providerConfig) {
		c.logger = l
	}
}

// NewProvider creates a provider and starts tracking r's mutations in l.
// Call Close to stop tracking.
func NewProvider[T any](replica ir.Replica, r repo.Repository[T], l *ledger.Ledger, schema Schema[T], opts ...ProviderOption) *Provider[T] {
	cfg := providerConfig{strategy: StrategyFail}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Provider[T]{
		replica:  replica,
		repo:     r,
		ledger:   l,
		tracker:  ledger.Track(r, l, replica.ID),
		schema:   schema,
		strategy: cfg.strategy,
		caps: ir.Capabilities{
			AcceptChanges:   !cfg.readOnly,
			MetadataCleanup: cfg.cleanup,
		},
		logger: cfg.logger.With("replica", replica.String(), "article", l.Article()),
		keys:   NewKeySequence(replica.ID, l.Article()),
	}
}

// Replica returns the provider's replica identity.
func (p *Provider[T]) Replica() ir.Replica {
	return p.replica
}

// ReplicaID returns the provider's replica id.
func (p *Provider[T]) ReplicaID() ir.ReplicaID {
	return p.replica.ID
}

// Capabilities returns what the provider advertised at construction.
func (p *Provider[T]) Capabilities() ir.Capabilities {
	return p.caps
}

// Strategy returns the conflict strategy.
func (p *Provider[T]) Strategy() Strategy {
	return p.strategy
}

// Repository returns the tracked repository.
func (p *Provider[T]) Repository() repo.Repository[T] {
	return p.repo
}

// Ledger returns the provider's change history.
func (p *Provider[T]) Ledger() *ledger.Ledger {
	return p.ledger
}

// Close stops change tracking.
func (p *Provider[T]) Close() {
	p.tracker.Close()
}

// NewKey mints a key for a new entity of this replica and article.
// The first call recovers the last used sequence from existing rows and
// history.
func (p *Provider[T]) NewKey(ctx context.Context) (ir.Key, error) {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()

	if !p.keysLoaded {
		if err := p.recoverKeys(ctx); err != nil {
			return ir.NilKey, classify(err, p.replica.ID, "recover keys")
		}
		p.keysLoaded = true
	}
	return p.keys.Next(), nil
}

func (p *Provider[T]) recoverKeys(ctx context.Context) error {
	rows, err := p.repo.All(ctx)
	if err != nil {
		return err
	}
	for _, v := range rows {
		p.keys.Observe(p.schema.Key(v))
	}
	entries, err := p.ledger.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p.keys.Observe(e.Key)
	}
	return nil
}

// LastAnchor returns the highest version recorded per replica.
func (p *Provider[T]) LastAnchor(ctx context.Context) (ir.Anchor, error) {
	ctx, release, err := p.repo.Lock().AcquireRead(ctx)
	if err != nil {
		return nil, classify(err, p.replica.ID, "last anchor")
	}
	defer release()

	anchor, err := p.ledger.LastAnchor(ctx)
	if err != nil {
		return nil, classify(err, p.replica.ID, "last anchor")
	}
	return anchor, nil
}

// ResolveDelta returns the changes not covered by remote, ascending by
// version, together with this replica's anchor. Calling it again with the
// same anchor against an unchanged ledger returns an equal delta.
func (p *Provider[T]) ResolveDelta(ctx context.Context, remote ir.Anchor) (ir.Delta[T], error) {
	if err := checkpoint(ctx, p.replica.ID, "resolve delta"); err != nil {
		return ir.Delta[T]{}, err
	}
	ctx, release, err := p.repo.Lock().AcquireRead(ctx)
	if err != nil {
		return ir.Delta[T]{}, classify(err, p.replica.ID, "resolve delta")
	}
	defer release()

	delta, err := p.resolve(ctx, remote)
	if err != nil {
		return ir.Delta[T]{}, classify(err, p.replica.ID, "resolve delta")
	}
	p.logger.Debug("delta resolved",
		"remote_anchor", remote.String(),
		"anchor", delta.Anchor.String(),
		"changes", delta.Len(),
	)
	return delta, nil
}

// resolve joins unseen ledger entries to current entity values. The caller
// holds the repository lock.
//
// A Delete entry becomes a tombstone. Any other entry whose entity is gone
// is dropped; a later Delete entry for the same key carries the removal.
func (p *Provider[T]) resolve(ctx context.Context, remote ir.Anchor) (ir.Delta[T], error) {
	anchor, entries, err := p.ledger.Snapshot(ctx, remote)
	if err != nil {
		return ir.Delta[T]{}, err
	}

	type lookup struct {
		value T
		found bool
	}
	current := make(map[ir.Key]lookup)
	changes := make([]ir.EntityVersion[T], 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return ir.Delta[T]{}, err
		}
		if e.Action == ir.ActionDelete {
			changes = append(changes, ir.EntityVersion[T]{Entry: e, Tombstone: true})
			continue
		}
		l, ok := current[e.Key]
		if !ok {
			v, found, err := p.repo.Get(ctx, e.Key)
			if err != nil {
				return ir.Delta[T]{}, err
			}
			l = lookup{value: v, found: found}
			current[e.Key] = l
		}
		if !l.found {
			continue
		}
		changes = append(changes, ir.EntityVersion[T]{Entry: e, Entity: p.schema.Clone(l.value)})
	}
	return ir.Delta[T]{Anchor: anchor, Changes: changes}, nil
}

// AcceptChanges applies a delta produced by source.
//
// Changes already covered by this replica's anchor are skipped. Keys that
// changed on both sides since the delta's anchor are conflicts, handled by
// the provider's strategy. The surviving changes are applied ascending by
// version with change tracking suspended, and each one's ledger entry is
// mirrored locally.
//
// On cancellation or error the changes applied so far stay committed and
// the partial result is returned with the error.
func (p *Provider[T]) AcceptChanges(ctx context.Context, source ir.ReplicaID, delta ir.Delta[T]) (ir.SyncResult, error) {
	if !p.caps.AcceptChanges {
		return ir.NewSyncResult(), NewUnsupportedError(p.replica.ID, "accepting changes")
	}
	if err := checkpoint(ctx, source, "accept changes"); err != nil {
		return ir.NewSyncResult(), err
	}

	ctx, releaseRepo, err := p.repo.Lock().AcquireWrite(ctx)
	if err != nil {
		return ir.NewSyncResult(), classify(err, source, "accept changes")
	}
	defer releaseRepo()
	ctx, releaseLedger, err := p.ledger.Lock().AcquireWrite(ctx)
	if err != nil {
		return ir.NewSyncResult(), classify(err, source, "accept changes")
	}
	defer releaseLedger()

	resume := p.tracker.Suspend()
	defer resume()

	result, applied, err := p.merge(ctx, source, delta)
	if err != nil {
		return result, classify(err, source, "accept changes")
	}

	if p.caps.MetadataCleanup {
		if _, err := p.truncate(ctx, applied); err != nil {
			return result, classify(err, source, "metadata cleanup")
		}
	}

	p.logger.Info("changes accepted",
		"source", source,
		"offered", delta.Len(),
		"inserted", len(result.Inserted),
		"updated", len(result.Updated),
		"deleted", len(result.Deleted),
		"absorbed", result.Absorbed,
		"conflicts", result.Conflicts,
	)
	return result, nil
}

// merge runs the merge state machine. The caller holds both write locks
// and has suspended tracking. It returns the entries recorded locally,
// whether applied or absorbed.
func (p *Provider[T]) merge(ctx context.Context, source ir.ReplicaID, delta ir.Delta[T]) (ir.SyncResult, []ir.ChangeEntry, error) {
	result := ir.NewSyncResult()

	local, err := p.ledger.LastAnchor(ctx)
	if err != nil {
		return result, nil, err
	}
	incoming := make([]ir.EntityVersion[T], 0, delta.Len())
	for _, c := range delta.Changes {
		if local.Covers(c.Entry.Replica, c.Entry.Version) {
			continue
		}
		incoming = append(incoming, c)
	}
	ir.SortChanges(incoming)

	conflicts, err := p.detectConflicts(ctx, delta.Anchor, incoming)
	if err != nil {
		return result, nil, err
	}

	var recorded []ir.ChangeEntry
	if len(conflicts) > 0 {
		result.Conflicts = len(conflicts)
		switch p.strategy {
		case StrategyFail:
			p.logger.Warn("conflicting changes rejected",
				"source", source,
				"conflicts", len(conflicts),
			)
			return result, nil, NewConflictError(source, conflicts)

		case StrategyWinner:
			kept := make([]ir.EntityVersion[T], 0, len(incoming))
			var absorbed []ir.ChangeEntry
			for _, c := range incoming {
				if slices.Contains(conflicts, c.Key()) {
					absorbed = append(absorbed, c.Entry)
					continue
				}
				kept = append(kept, c)
			}
			if _, err := p.ledger.Record(ctx, absorbed...); err != nil {
				return result, nil, err
			}
			result.Absorbed = len(absorbed)
			recorded = append(recorded, absorbed...)
			incoming = kept
			p.logger.Warn("conflicting changes absorbed, local values kept",
				"source", source,
				"conflicts", len(conflicts),
				"absorbed", len(absorbed),
			)

		case StrategyLoser:
			p.logger.Warn("conflicting changes overwrite local values",
				"source", source,
				"conflicts", len(conflicts),
			)
		}
	}

	for _, c := range incoming {
		if err := ctx.Err(); err != nil {
			return result, recorded, NewCancelledError(source, "apply", err)
		}
		if err := p.apply(ctx, c, &result); err != nil {
			return result, recorded, err
		}
		if _, err := p.ledger.Record(ctx, c.Entry); err != nil {
			return result, recorded, err
		}
		recorded = append(recorded, c.Entry)
	}
	return result, recorded, nil
}

// detectConflicts returns, in application order, the keys of incoming
// changes that this replica also changed without the source having seen it.
func (p *Provider[T]) detectConflicts(ctx context.Context, remote ir.Anchor, incoming []ir.EntityVersion[T]) ([]ir.Key, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	mine, err := p.resolve(ctx, remote)
	if err != nil {
		return nil, err
	}
	changedHere := make(map[ir.Key]bool, mine.Len())
	for _, c := range mine.Changes {
		changedHere[c.Key()] = true
	}

	var conflicts []ir.Key
	seen := make(map[ir.Key]bool)
	for _, c := range incoming {
		k := c.Key()
		if changedHere[k] && !seen[k] {
			seen[k] = true
			conflicts = append(conflicts, k)
		}
	}
	return conflicts, nil
}

// apply performs one untracked mutation.
func (p *Provider[T]) apply(ctx context.Context, c ir.EntityVersion[T], result *ir.SyncResult) error {
	key := c.Key()
	current, found, err := p.repo.Get(ctx, key)
	if err != nil {
		return err
	}

	if c.Tombstone || c.Entry.Action == ir.ActionDelete {
		if !found {
			return nil
		}
		if err := p.repo.Delete(ctx, key); err != nil {
			return err
		}
		result.Deleted = append(result.Deleted, key)
		p.logger.Debug("entity deleted", "key", key, "origin", c.Entry.Replica, "version", c.Entry.Version)
		return nil
	}

	if !found {
		if err := p.repo.Insert(ctx, p.schema.Clone(c.Entity)); err != nil {
			return err
		}
		result.Inserted = append(result.Inserted, key)
		p.logger.Debug("entity inserted", "key", key, "origin", c.Entry.Replica, "version", c.Entry.Version)
		return nil
	}

	local := p.schema.Clone(current)
	changed := p.schema.Reconcile(&local, c.Entity)
	if len(changed) == 0 {
		return nil
	}
	if err := p.repo.Update(ctx, local); err != nil {
		return err
	}
	result.Updated = append(result.Updated, key)
	p.logger.Debug("entity updated",
		"key", key,
		"origin", c.Entry.Replica,
		"version", c.Entry.Version,
		"fields", changed,
	)
	return nil
}

// CleanUpSyncMetadata truncates, for every replica that originated one of
// applied, the ledger entries older than the newest applied version of that
// replica. Later entries and entries of other replicas are untouched and the
// anchor is unchanged. Returns how many entries were
// removed.
func (p *Provider[T]) CleanUpSyncMetadata(ctx context.Context, applied []ir.ChangeEntry) (int, error) {
	if !p.caps.MetadataCleanup {
		return 0, NewUnsupportedError(p.replica.ID, "metadata cleanup")
	}
	if err := checkpoint(ctx, p.replica.ID, "metadata cleanup"); err != nil {
		return 0, err
	}
	n, err := p.truncate(ctx, applied)
	if err != nil {
		return 0, classify(err, p.replica.ID, "metadata cleanup")
	}
	return n, nil
}

func (p *Provider[T]) truncate(ctx context.Context, applied []ir.ChangeEntry) (int, error) {
	ceilings := ir.NewAnchor()
	for _, e := range applied {
		ceilings.Observe(e.Replica, e.Version)
	}
	return p.ledger.Truncate(ctx, ceilings)
}
