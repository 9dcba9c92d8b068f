package syncop

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
	"github.com/roach88/replisync/internal/repo"
)

const testArticle ir.ArticleID = 1

func newPeer(t *testing.T, id ir.ReplicaID, name string, opts ...engine.ProviderOption) *engine.Provider[ir.Record] {
	t.Helper()
	r := repo.NewRecordMemory(name)
	l := ledger.New(ledger.NewMemoryBackend(), testArticle)
	p := engine.NewProvider[ir.Record](ir.Replica{ID: id, Name: name}, r, l, engine.Records(), opts...)
	t.Cleanup(p.Close)
	return p
}

func key(replica ir.ReplicaID, seq uint64) ir.Key {
	return ir.NewKey(replica, testArticle, seq)
}

func put(t *testing.T, p *engine.Provider[ir.Record], k ir.Key, text string) {
	t.Helper()
	ctx := context.Background()
	rec := ir.Record{Key: k, Fields: ir.Fields{"text": ir.String(text)}}
	_, found, err := p.Repository().Get(ctx, k)
	require.NoError(t, err)
	if found {
		require.NoError(t, p.Repository().Update(ctx, rec))
		return
	}
	require.NoError(t, p.Repository().Insert(ctx, rec))
}

// seed inserts n records numbered from 1 on p.
func seed(t *testing.T, p *engine.Provider[ir.Record], n int) []ir.Key {
	t.Helper()
	keys := make([]ir.Key, n)
	for i := range keys {
		keys[i] = key(p.ReplicaID(), uint64(i+1))
		put(t, p, keys[i], "v")
	}
	return keys
}

func textOf(t *testing.T, p *engine.Provider[ir.Record], k ir.Key) string {
	t.Helper()
	r, found, err := p.Repository().Get(context.Background(), k)
	require.NoError(t, err)
	if !found {
		return ""
	}
	s, _ := r.Get("text").(ir.String)
	return string(s)
}

func count(t *testing.T, p *engine.Provider[ir.Record]) int {
	t.Helper()
	all, err := p.Repository().All(context.Background())
	require.NoError(t, err)
	return len(all)
}

// gatedSource blocks every ResolveDelta until release is closed and
// records how many calls were in flight at once.
type gatedSource struct {
	*engine.Provider[ir.Record]
	entered  chan struct{}
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func newGatedSource(p *engine.Provider[ir.Record]) *gatedSource {
	return &gatedSource{
		Provider: p,
		entered:  make(chan struct{}, 16),
		release:  make(chan struct{}),
	}
}

func (g *gatedSource) ResolveDelta(ctx context.Context, remote ir.Anchor) (ir.Delta[ir.Record], error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.Provider.ResolveDelta(ctx, remote)
}

// failingRunner always fails with err.
type failingRunner struct {
	name string
	err  error
}

func (f failingRunner) Name() string { return f.name }

func (f failingRunner) Run(context.Context) (ir.SyncResult, error) {
	return ir.NewSyncResult(), f.err
}

// gatedTarget blocks AcceptChanges until release is closed.
type gatedTarget struct {
	*engine.Provider[ir.Record]
	entered chan struct{}
	release chan struct{}
}

func newGatedTarget(p *engine.Provider[ir.Record]) *gatedTarget {
	return &gatedTarget{
		Provider: p,
		entered:  make(chan struct{}, 16),
		release:  make(chan struct{}),
	}
}

func (g *gatedTarget) AcceptChanges(ctx context.Context, source ir.ReplicaID, delta ir.Delta[ir.Record]) (ir.SyncResult, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Provider.AcceptChanges(ctx, source, delta)
}
