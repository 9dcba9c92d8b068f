package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
	"github.com/roach88/replisync/internal/repo"
)

const testArticle ir.ArticleID = 1

// newRecordProvider creates an in-memory record provider for replica id.
func newRecordProvider(t *testing.T, id ir.ReplicaID, name string, opts ...ProviderOption) *Provider[ir.Record] {
	t.Helper()
	r := repo.NewRecordMemory(name)
	l := ledger.New(ledger.NewMemoryBackend(), testArticle)
	p := NewProvider[ir.Record](ir.Replica{ID: id, Name: name}, r, l, Records(), opts...)
	t.Cleanup(p.Close)
	return p
}

// put inserts or updates the record's text field through the repository,
// so the change is tracked.
func put(t *testing.T, p *Provider[ir.Record], key ir.Key, text string) {
	t.Helper()
	ctx := context.Background()
	rec := ir.Record{Key: key, Fields: ir.Fields{"text": ir.String(text)}}
	_, found, err := p.Repository().Get(ctx, key)
	require.NoError(t, err)
	if found {
		require.NoError(t, p.Repository().Update(ctx, rec))
		return
	}
	require.NoError(t, p.Repository().Insert(ctx, rec))
}

// textOf returns the text field of key, or "" when absent.
func textOf(t *testing.T, p *Provider[ir.Record], key ir.Key) string {
	t.Helper()
	r, found, err := p.Repository().Get(context.Background(), key)
	require.NoError(t, err)
	if !found {
		return ""
	}
	s, _ := r.Get("text").(ir.String)
	return string(s)
}

// syncOnce runs one direction: anchor from target, delta from source,
// accept on target.
func syncOnce(ctx context.Context, source, target *Provider[ir.Record]) (ir.SyncResult, error) {
	anchor, err := target.LastAnchor(ctx)
	if err != nil {
		return ir.SyncResult{}, err
	}
	delta, err := source.ResolveDelta(ctx, anchor)
	if err != nil {
		return ir.SyncResult{}, err
	}
	return target.AcceptChanges(ctx, source.ReplicaID(), delta)
}

func mustSync(t *testing.T, source, target *Provider[ir.Record]) ir.SyncResult {
	t.Helper()
	res, err := syncOnce(context.Background(), source, target)
	require.NoError(t, err)
	return res
}

func mustAnchor(t *testing.T, p *Provider[ir.Record]) ir.Anchor {
	t.Helper()
	a, err := p.LastAnchor(context.Background())
	require.NoError(t, err)
	return a
}

func allRecords(t *testing.T, p *Provider[ir.Record]) []ir.Record {
	t.Helper()
	all, err := p.Repository().All(context.Background())
	require.NoError(t, err)
	return all
}

func key(replica ir.ReplicaID, seq uint64) ir.Key {
	return ir.NewKey(replica, testArticle, seq)
}
