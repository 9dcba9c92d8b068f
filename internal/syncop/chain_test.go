package syncop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

func TestTwoWay_Converges(t *testing.T) {
	a := newPeer(t, 1, "a")
	b := newPeer(t, 2, "b")
	ka := key(1, 1)
	kb := key(2, 1)
	put(t, a, ka, "from-a")
	put(t, b, kb, "from-b")

	session := TwoWay[ir.Record]("a<->b", a, b)
	res, err := session.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []ir.Key{ka, kb}, res.Inserted, "upload results come first")
	assert.Equal(t, "from-b", textOf(t, a, kb))
	assert.Equal(t, "from-a", textOf(t, b, ka))
	assert.Equal(t, 2, session.Len())

	res, err = session.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Changed(), "a converged session has nothing to move")
}

func TestTwoWay_ServerWinsClientLoses(t *testing.T) {
	server := newPeer(t, 1, "server", engine.WithStrategy(engine.StrategyWinner))
	client := newPeer(t, 2, "client", engine.WithStrategy(engine.StrategyLoser))
	k := key(1, 1)
	put(t, server, k, "base")
	_, err := TwoWay[ir.Record]("seed", client, server).Run(context.Background())
	require.NoError(t, err)

	put(t, server, k, "server")
	put(t, client, k, "client")

	session := TwoWay[ir.Record]("client<->server", client, server)
	res, err := session.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts, "the client change is absorbed by the server, so the download is clean")

	assert.Equal(t, "server", textOf(t, server, k))
	assert.Equal(t, "server", textOf(t, client, k))
}

func TestChain_StopsOnFirstError(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 2)
	boom := errors.New("boom")

	ran := newPeer(t, 3, "never")
	chain := NewChain("session",
		NewOperation[ir.Record](src, dst, WithName("first")),
		failingRunner{name: "second", err: boom},
		NewOperation[ir.Record](src, ran, WithName("third")),
	)
	res, err := chain.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "second", stepErr.Step)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "session", stepErr.Chain)

	assert.Len(t, res.Inserted, 2, "partial aggregate of the steps before the failure")
	assert.Zero(t, count(t, ran))
}

func TestChain_StepErrorKeepsEngineCode(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst", engine.ReadOnly())
	seed(t, src, 1)

	_, err := NewChain("ro", NewOperation[ir.Record](src, dst)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsUnsupported(err))
}

func TestChain_Nests(t *testing.T) {
	a1 := newPeer(t, 1, "a1")
	b1 := newPeer(t, 2, "b1")
	a2 := newPeer(t, 1, "a2")
	b2 := newPeer(t, 2, "b2")
	seed(t, a1, 1)
	seed(t, b2, 2)

	session := NewChain("all",
		TwoWay[ir.Record]("first", a1, b1),
	).Add(TwoWay[ir.Record]("second", a2, b2))

	res, err := session.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 3)
	assert.Equal(t, 1, count(t, b1))
	assert.Equal(t, 2, count(t, a2))
	assert.Equal(t, "all", session.Name())
}

func TestChain_CancelledBeforeRun(t *testing.T) {
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain("c", NewOperation[ir.Record](src, dst)).Run(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
	assert.Zero(t, count(t, dst))
}

func TestRunConcurrently(t *testing.T) {
	pairs := make([]Runner, 0, 3)
	targets := make([]int, 0, 3)
	dsts := make([]func() int, 0, 3)
	for i := range 3 {
		src := newPeer(t, ir.ReplicaID(10+i), "src")
		dst := newPeer(t, ir.ReplicaID(20+i), "dst")
		seed(t, src, i+1)
		targets = append(targets, i+1)
		dsts = append(dsts, func() int { return count(t, dst) })
		pairs = append(pairs, NewOperation[ir.Record](src, dst))
	}

	results, err := RunConcurrently(context.Background(), pairs...)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := range results {
		assert.Len(t, results[i].Inserted, targets[i])
		assert.Equal(t, targets[i], dsts[i]())
	}
}

func TestRunConcurrently_FirstErrorReturned(t *testing.T) {
	boom := errors.New("boom")
	src := newPeer(t, 1, "src")
	dst := newPeer(t, 2, "dst")
	seed(t, src, 1)

	_, err := RunConcurrently(context.Background(),
		NewOperation[ir.Record](src, dst),
		failingRunner{name: "bad", err: boom},
	)
	require.ErrorIs(t, err, boom)
}
