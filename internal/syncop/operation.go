package syncop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

type config struct {
	name      string
	filter    any
	batchSize int
	maxRounds int
	logger    *slog.Logger
	metrics   *Metrics
	ids       RunIDGenerator
}

// Option configures an Operation.
type Option func(*config)

// WithName names the operation in logs, metrics and chain errors.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithFilter sets the delta filter. Its entity type must match the
// operation's.
func WithFilter[T any](f Filter[T]) Option {
	return func(c *config) {
		c.filter = f
	}
}

// WithBatchSize caps the changes applied per round. Run keeps running
// rounds until a round applies fewer than n. Zero means no cap.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithMaxRounds bounds the rounds of one Run.
//
// Default: 1000 rounds (DefaultMaxRounds)
func WithMaxRounds(n int) Option {
	return func(c *config) {
		c.maxRounds = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics records rounds in m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithRunIDs sets the run id generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(c *config) {
		c.ids = g
	}
}

func newConfig(defaultName string, opts []Option) config {
	c := config{name: defaultName, maxRounds: DefaultMaxRounds}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.ids == nil {
		c.ids = UUIDv7Generator{}
	}
	return c
}

// Operation moves changes from one source to one target.
//
// Thread-safety: safe for concurrent use. Runs of one Operation never
// overlap; concurrent callers wait their turn.
type Operation[T any] struct {
	cfg    config
	source Source[T]
	target Target[T]
	filter Filter[T]
	gate   *semaphore.Weighted
}

var _ Runner = (*Operation[ir.Record])(nil)

// NewOperation creates an operation from source to target.
//
// Panics if a filter of another entity type is configured; that is a
// programming error.
func NewOperation[T any](source Source[T], target Target[T], opts ...Option) *Operation[T] {
	cfg := newConfig(fmt.Sprintf("%d->%d", source.ReplicaID(), target.ReplicaID()), opts)
	op := &Operation[T]{
		cfg:    cfg,
		source: source,
		target: target,
		gate:   semaphore.NewWeighted(1),
	}
	if cfg.filter != nil {
		f, ok := cfg.filter.(Filter[T])
		if !ok {
			panic(fmt.Sprintf("syncop: filter %T does not match operation %s", cfg.filter, cfg.name))
		}
		op.filter = f
	}
	return op
}

// Name implements Runner.
func (o *Operation[T]) Name() string {
	return o.cfg.name
}

// RunOnce runs a single round: one anchor, one delta (capped at the batch
// size), one accept, then cleanup.
func (o *Operation[T]) RunOnce(ctx context.Context) (ir.SyncResult, error) {
	if err := o.enter(ctx); err != nil {
		return ir.NewSyncResult(), err
	}
	defer o.gate.Release(1)

	res, _, err := o.round(ctx, o.cfg.ids.Generate())
	return res, err
}

// Run implements Runner. It runs rounds until one applies fewer changes
// than the batch size, or once when there is no batch size.
func (o *Operation[T]) Run(ctx context.Context) (ir.SyncResult, error) {
	if err := o.enter(ctx); err != nil {
		return ir.NewSyncResult(), err
	}
	defer o.gate.Release(1)

	runID := o.cfg.ids.Generate()
	total := ir.NewSyncResult()
	for rounds := 1; ; rounds++ {
		res, offered, err := o.round(ctx, runID)
		total = total.Merge(res)
		if err != nil {
			return total, err
		}
		if o.cfg.batchSize <= 0 || offered < o.cfg.batchSize {
			return total, nil
		}
		if o.cfg.maxRounds > 0 && rounds >= o.cfg.maxRounds {
			return total, &RoundsExceededError{Operation: o.cfg.name, Rounds: rounds, Limit: o.cfg.maxRounds}
		}
	}
}

// enter waits for the single-flight gate.
func (o *Operation[T]) enter(ctx context.Context) error {
	if err := o.gate.Acquire(ctx, 1); err != nil {
		return engine.NewCancelledError(o.target.ReplicaID(), "waiting for operation "+o.cfg.name, err)
	}
	return nil
}

// round runs one anchor/resolve/accept/cleanup pass and returns how many
// changes were offered to the target.
func (o *Operation[T]) round(ctx context.Context, runID string) (res ir.SyncResult, offered int, err error) {
	start := time.Now()
	res = ir.NewSyncResult()
	defer func() {
		o.cfg.metrics.observeRound(o.cfg.name, res, err, time.Since(start))
	}()
	log := o.cfg.logger.With("operation", o.cfg.name, "run_id", runID)

	anchor, err := o.target.LastAnchor(ctx)
	if err != nil {
		return res, 0, err
	}
	if err := o.checkpoint(ctx, "anchor"); err != nil {
		return res, 0, err
	}

	delta, err := o.source.ResolveDelta(ctx, anchor)
	if err != nil {
		return res, 0, err
	}
	if err := o.checkpoint(ctx, "resolve"); err != nil {
		return res, 0, err
	}

	if o.filter != nil {
		if delta, err = o.filter(delta); err != nil {
			return res, 0, fmt.Errorf("operation %s: filter: %w", o.cfg.name, err)
		}
	}
	if o.cfg.batchSize > 0 {
		delta = delta.Head(o.cfg.batchSize)
	}
	offered = delta.Len()

	res, err = o.target.AcceptChanges(ctx, o.source.ReplicaID(), delta)
	if err != nil {
		log.Warn("accept failed", "offered", offered, "error", err)
		return res, offered, err
	}
	if err := o.checkpoint(ctx, "accept"); err != nil {
		return res, offered, err
	}

	if offered > 0 {
		if err := o.cleanup(ctx, delta.Entries()); err != nil {
			return res, offered, err
		}
	}

	log.Info("operation round complete",
		"anchor", anchor.String(),
		"offered", offered,
		"inserted", len(res.Inserted),
		"updated", len(res.Updated),
		"deleted", len(res.Deleted),
		"conflicts", res.Conflicts,
	)
	return res, offered, nil
}

// cleanup calls CleanUpSyncMetadata on each side that advertises it.
func (o *Operation[T]) cleanup(ctx context.Context, applied []ir.ChangeEntry) error {
	for _, side := range []Endpoint{o.source, o.target} {
		if !side.Capabilities().MetadataCleanup {
			continue
		}
		if err := o.checkpoint(ctx, "cleanup"); err != nil {
			return err
		}
		n, err := side.CleanUpSyncMetadata(ctx, applied)
		if err != nil {
			return err
		}
		o.cfg.metrics.observeCleanup(o.cfg.name, n)
		if err := o.checkpoint(ctx, "cleanup"); err != nil {
			return err
		}
	}
	return nil
}

func (o *Operation[T]) checkpoint(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return engine.NewCancelledError(o.target.ReplicaID(), o.cfg.name+" "+step, err)
	}
	return nil
}
