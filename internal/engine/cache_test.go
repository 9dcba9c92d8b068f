package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/ir"
)

func TestCachingSource_MemoizesByAnchor(t *testing.T) {
	ctx := context.Background()
	p := newRecordProvider(t, 1, "a")
	put(t, p, key(1, 1), "x")
	c := NewCachingSource(p, 0)

	first, err := c.ResolveDelta(ctx, ir.Anchor{2: 1})
	require.NoError(t, err)
	second, err := c.ResolveDelta(ctx, ir.Anchor{2: 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	_, err = c.ResolveDelta(ctx, ir.Anchor{2: 2})
	require.NoError(t, err)
	_, misses = c.Stats()
	assert.Equal(t, 2, misses, "different anchor is a different entry")
}

func TestCachingSource_InvalidatedByLedgerWrite(t *testing.T) {
	ctx := context.Background()
	p := newRecordProvider(t, 1, "a")
	put(t, p, key(1, 1), "x")
	c := NewCachingSource(p, 0)

	d, err := c.ResolveDelta(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	put(t, p, key(1, 2), "y")
	d, err = c.ResolveDelta(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, 2, misses)
}

func TestCachingSource_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	p := newRecordProvider(t, 1, "a")
	put(t, p, key(1, 1), "x")
	put(t, p, key(1, 2), "y")
	c := NewCachingSource(p, 0)

	d, err := c.ResolveDelta(ctx, nil)
	require.NoError(t, err)
	d.Changes = d.Changes[:1]
	d.Anchor[9] = 9

	again, err := c.ResolveDelta(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Len())
	assert.NotContains(t, again.Anchor, ir.ReplicaID(9))
}

func TestCachingSource_DelegatesAccept(t *testing.T) {
	a := newRecordProvider(t, 1, "a")
	b := NewCachingSource(newRecordProvider(t, 2, "b"), 2)
	put(t, a, key(1, 1), "x")

	ctx := context.Background()
	anchor, err := b.LastAnchor(ctx)
	require.NoError(t, err)
	d, err := a.ResolveDelta(ctx, anchor)
	require.NoError(t, err)
	res, err := b.AcceptChanges(ctx, a.ReplicaID(), d)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 1)
}
