package syncop

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

// Chain runs its members in order as one logical session, such as an
// upload followed by a download, or one article after another.
//
// Like Operation, a Chain never has two runs in flight.
type Chain struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	runners []Runner
	gate    *semaphore.Weighted
}

var _ Runner = (*Chain)(nil)

// NewChain creates a chain of the given runners.
func NewChain(name string, runners ...Runner) *Chain {
	return &Chain{
		name:    name,
		logger:  slog.Default(),
		runners: runners,
		gate:    semaphore.NewWeighted(1),
	}
}

// WithLogger sets the logger for chain-level events.
func (c *Chain) WithLogger(l *slog.Logger) *Chain {
	c.logger = l
	return c
}

// Name implements Runner.
func (c *Chain) Name() string {
	return c.name
}

// Add appends runners. It takes effect from the next Run.
func (c *Chain) Add(runners ...Runner) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runners = append(c.runners, runners...)
	return c
}

// Len returns the number of members.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runners)
}

// Run implements Runner. The members' results are merged in order. The
// first failing member stops the chain; the aggregate of the members that
// ran before it is returned together with a *StepError.
func (c *Chain) Run(ctx context.Context) (ir.SyncResult, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return ir.NewSyncResult(), engine.NewCancelledError(0, "waiting for chain "+c.name, err)
	}
	defer c.gate.Release(1)

	c.mu.Lock()
	runners := append([]Runner(nil), c.runners...)
	c.mu.Unlock()

	total := ir.NewSyncResult()
	for i, r := range runners {
		res, err := r.Run(ctx)
		total = total.Merge(res)
		if err != nil {
			c.logger.Warn("chain step failed", "chain", c.name, "step", r.Name(), "index", i, "error", err)
			return total, &StepError{Chain: c.name, Step: r.Name(), Index: i, Err: err}
		}
	}
	c.logger.Debug("chain complete", "chain", c.name, "steps", len(runners), "changed", total.Changed())
	return total, nil
}

// TwoWay returns a chain that uploads a's changes to b and then downloads
// b's changes to a. The options apply to both operations; names get an
// "/upload" and "/download" suffix.
func TwoWay[T any](name string, a, b Peer[T], opts ...Option) *Chain {
	up := NewOperation[T](a, b, append(append([]Option(nil), opts...), WithName(name+"/upload"))...)
	down := NewOperation[T](b, a, append(append([]Option(nil), opts...), WithName(name+"/download"))...)
	return NewChain(name, up, down)
}
