package syncop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

func TestOperation_RunOnceCopiesChanges(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	keys := seed(t, src, 3)

	op := NewOperation[ir.Record](src, dst)
	res, err := op.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, keys, res.Inserted)
	assert.Equal(t, 3, count(t, dst))
	assert.Equal(t, "1->2", op.Name())
}

func TestOperation_SecondRunIsEmpty(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 2)

	op := NewOperation[ir.Record](src, dst)
	_, err := op.Run(context.Background())
	require.NoError(t, err)

	res, err := op.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Changed())
}

func TestOperation_BatchSize(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 5)

	op := NewOperation[ir.Record](src, dst, WithBatchSize(2))

	res, err := op.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 2, "RunOnce applies one batch")

	res, err = op.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 3, "Run drains the rest")
	assert.Equal(t, 5, count(t, dst))
}

func TestOperation_BatchSizeExactMultiple(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 4)

	op := NewOperation[ir.Record](src, dst, WithBatchSize(2))
	res, err := op.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 4)
}

func TestOperation_MaxRounds(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 5)

	op := NewOperation[ir.Record](src, dst, WithBatchSize(1), WithMaxRounds(2), WithName("capped"))
	res, err := op.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRoundsExceeded(err))
	assert.Contains(t, err.Error(), "capped")
	assert.Len(t, res.Inserted, 2)

	// Applied rounds stay committed.
	assert.Equal(t, 2, count(t, dst))
}

func TestOperation_CleanupOnCapableSides(t *testing.T) {
	src := newPeer(t, 1, "src", engine.WithMetadataCleanup())
	dst := newPeer(t, 2, "dst")
	k := key(1, 1)
	put(t, src, k, "a")
	put(t, src, k, "b")
	put(t, src, k, "c")

	ctx := context.Background()
	before, err := src.Ledger().Entries(ctx)
	require.NoError(t, err)
	require.Len(t, before, 3)
	anchor, err := src.LastAnchor(ctx)
	require.NoError(t, err)

	_, err = NewOperation[ir.Record](src, dst).RunOnce(ctx)
	require.NoError(t, err)

	after, err := src.Ledger().Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 1)
	got, err := src.LastAnchor(ctx)
	require.NoError(t, err)
	assert.True(t, anchor.Equal(got))

	// The target did not opt in and keeps its full mirror of what it saw.
	dstEntries, err := dst.Ledger().Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, dstEntries, 3)
	assert.Equal(t, "c", textOf(t, dst, k))
}

func TestOperation_CleanupWithPartialBatches(t *testing.T) {
	src := newPeer(t, 1, "leaf", engine.WithMetadataCleanup())
	dst := newPeer(t, 2, "hub")
	keys := seed(t, src, 3)
	ctx := context.Background()

	op := NewOperation[ir.Record](src, dst, WithBatchSize(1))

	_, err := op.RunOnce(ctx)
	require.NoError(t, err)
	pending, err := src.Ledger().Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "entries not yet delivered survive cleanup")

	res, err := op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys[1:], res.Inserted)
	assert.Equal(t, 3, count(t, dst))

	left, err := src.Ledger().Entries(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, ir.Version(3), left[0].Version)
}

func TestOperation_CleanupKeepsWritesAfterResolve(t *testing.T) {
	src := newPeer(t, 1, "leaf", engine.WithMetadataCleanup())
	hub := newPeer(t, 2, "hub")
	seed(t, src, 1)
	ctx := context.Background()

	dst := newGatedTarget(hub)
	done := make(chan error, 1)
	go func() {
		_, err := NewOperation[ir.Record](src, dst).RunOnce(ctx)
		done <- err
	}()

	// The delta is resolved; two local writes land before cleanup runs.
	<-dst.entered
	put(t, src, key(1, 2), "late")
	put(t, src, key(1, 3), "later")
	close(dst.release)
	require.NoError(t, <-done)

	res, err := NewOperation[ir.Record](src, hub).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{key(1, 2), key(1, 3)}, res.Inserted)
	assert.Equal(t, "later", textOf(t, hub, key(1, 3)))
}

func TestOperation_FailStrategyConflict(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	k := key(1, 1)
	put(t, src, k, "base")
	_, err := NewOperation[ir.Record](src, dst).RunOnce(context.Background())
	require.NoError(t, err)

	put(t, src, k, "src")
	put(t, dst, k, "dst")

	_, err = NewOperation[ir.Record](src, dst).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsConflictError(err))
	assert.Equal(t, "dst", textOf(t, dst, k))
}

func TestOperation_CancelledBeforeStart(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOperation[ir.Record](src, dst).RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.Zero(t, count(t, dst))
}

func TestOperation_CancelledAfterResolve(t *testing.T) {
	src := newGatedSource(newPeer(t, 1, "src"))
	dst := newPeer(t, 2, "dst")
	seed(t, src.Provider, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := NewOperation[ir.Record](src, dst).RunOnce(ctx)
		errc <- err
	}()

	<-src.entered
	cancel()
	close(src.release)

	err := <-errc
	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.Zero(t, count(t, dst), "nothing is applied once cancellation is observed")
}

func TestOperation_SingleFlight(t *testing.T) {
	src := newGatedSource(newPeer(t, 1, "src"))
	dst := newPeer(t, 2, "dst")
	seed(t, src.Provider, 3)
	op := NewOperation[ir.Record](src, dst)

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := op.RunOnce(context.Background())
			errs <- err
		}()
	}

	<-src.entered
	// Give queued callers a chance to pile up on the gate.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load(), "second call is queued, not run")
	close(src.release)

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err, "queued calls are not rejected")
	}
	assert.Equal(t, int32(callers), src.calls.Load())
	assert.Equal(t, int32(1), src.maxSeen.Load())
	assert.Equal(t, 3, count(t, dst))
}

func TestOperation_CancelWhileQueued(t *testing.T) {
	src := newGatedSource(newPeer(t, 1, "src"))
	dst := newPeer(t, 2, "dst")
	op := NewOperation[ir.Record](src, dst)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = op.RunOnce(context.Background())
	}()
	<-src.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := op.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))

	close(src.release)
	<-done
}

func TestOperation_ReadOnlyTarget(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst", engine.ReadOnly())
	seed(t, src, 1)

	_, err := NewOperation[ir.Record](src, dst).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsUnsupported(err))
}

func TestOperation_SequentialRunIDs(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	gen := NewSequentialGenerator("run")

	op := NewOperation[ir.Record](src, dst, WithRunIDs(gen))
	_, err := op.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = op.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-3", gen.Generate())
}
