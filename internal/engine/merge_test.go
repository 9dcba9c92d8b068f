package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/ir"
)

// divergedPair returns two replicas that share key k and have each changed
// it since their last exchange.
func divergedPair(t *testing.T, aOpts, bOpts []ProviderOption) (a, b *Provider[ir.Record], k ir.Key) {
	t.Helper()
	a = newRecordProvider(t, 1, "a", aOpts...)
	b = newRecordProvider(t, 2, "b", bOpts...)
	k = key(1, 1)
	put(t, a, k, "base")
	mustSync(t, a, b)

	put(t, a, k, "from-a")
	put(t, b, k, "from-b")
	return a, b, k
}

func TestMerge_FailStrategyRejectsAndLeavesBothSidesUntouched(t *testing.T) {
	ctx := context.Background()
	a, b, k := divergedPair(t, nil, []ProviderOption{WithStrategy(StrategyFail)})
	put(t, a, key(1, 2), "unrelated")

	anchorBefore := mustAnchor(t, b)
	entriesBefore, err := b.Ledger().Entries(ctx)
	require.NoError(t, err)

	res, err := syncOnce(ctx, a, b)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []ir.Key{k}, se.Keys)
	assert.Equal(t, ir.ReplicaID(1), se.Replica)
	assert.Equal(t, 1, res.Conflicts)
	assert.Zero(t, res.Changed())

	assert.Equal(t, "from-b", textOf(t, b, k))
	assert.Equal(t, "", textOf(t, b, key(1, 2)), "non-conflicting changes are not applied either")
	assert.Equal(t, anchorBefore, mustAnchor(t, b))
	entriesAfter, err := b.Ledger().Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, entriesBefore, entriesAfter)
	assert.Equal(t, "from-a", textOf(t, a, k))
}

func TestMerge_WinnerKeepsLocalAndAbsorbsRemote(t *testing.T) {
	ctx := context.Background()
	a, b, k := divergedPair(t, nil, []ProviderOption{WithStrategy(StrategyWinner)})
	put(t, a, key(1, 2), "unrelated")

	res, err := syncOnce(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Absorbed)
	assert.Equal(t, []ir.Key{key(1, 2)}, res.Inserted, "non-conflicting changes still apply")
	assert.Empty(t, res.Updated)

	assert.Equal(t, "from-b", textOf(t, b, k))
	assert.True(t, mustAnchor(t, b).Covers(1, mustAnchor(t, a).Get(1)), "absorbed version is known")

	// The absorbed change is not offered again.
	d, err := a.ResolveDelta(ctx, mustAnchor(t, b))
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestMerge_LoserAppliesRemote(t *testing.T) {
	a, b, k := divergedPair(t, nil, []ProviderOption{WithStrategy(StrategyLoser)})

	res := mustSync(t, a, b)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, []ir.Key{k}, res.Updated)
	assert.Equal(t, "from-a", textOf(t, b, k))
}

func TestMerge_NoConflictWhenRemoteSawLocalChange(t *testing.T) {
	a := newRecordProvider(t, 1, "a")
	b := newRecordProvider(t, 2, "b")
	k := key(1, 1)
	put(t, a, k, "v1")
	mustSync(t, a, b)
	put(t, b, k, "v2")
	mustSync(t, b, a)

	put(t, a, k, "v3")
	res := mustSync(t, a, b)
	assert.Zero(t, res.Conflicts)
	assert.Equal(t, "v3", textOf(t, b, k))
}

func TestMerge_EqualValueStillAdvancesAnchor(t *testing.T) {
	a := newRecordProvider(t, 1, "a")
	b := newRecordProvider(t, 2, "b", WithStrategy(StrategyLoser))
	k := key(1, 1)
	put(t, a, k, "same")
	mustSync(t, a, b)

	put(t, a, k, "other")
	put(t, a, k, "same")
	res := mustSync(t, a, b)
	assert.Zero(t, res.Changed())
	assert.Equal(t, mustAnchor(t, a), mustAnchor(t, b))
}

func TestMerge_ReconcileRemovesMissingFields(t *testing.T) {
	ctx := context.Background()
	a := newRecordProvider(t, 1, "a")
	b := newRecordProvider(t, 2, "b")
	k := key(1, 1)
	require.NoError(t, a.Repository().Insert(ctx, ir.Record{Key: k, Fields: ir.Fields{"text": ir.String("x"), "done": ir.Bool(false)}}))
	mustSync(t, a, b)

	require.NoError(t, a.Repository().Update(ctx, ir.Record{Key: k, Fields: ir.Fields{"text": ir.String("x")}}))
	res := mustSync(t, a, b)
	assert.Equal(t, []ir.Key{k}, res.Updated)

	got, _, err := b.Repository().Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, ir.Fields{"text": ir.String("x")}, got.Fields)
}

// Server S keeps its values on conflict, client C yields. Whatever order the
// two directions run in, both end with the server's value.
func TestMerge_ServerClientScenario(t *testing.T) {
	tests := []struct {
		name    string
		upFirst bool
	}{
		{name: "download then upload", upFirst: false},
		{name: "upload then download", upFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newRecordProvider(t, 1, "server", WithStrategy(StrategyWinner))
			c := newRecordProvider(t, 2, "client", WithStrategy(StrategyLoser))
			k := key(1, 1)

			put(t, s, k, "a")
			mustSync(t, s, c)
			require.Equal(t, allRecords(t, s), allRecords(t, c))

			put(t, s, k, "server")
			put(t, c, k, "client")

			if tt.upFirst {
				mustSync(t, c, s)
				mustSync(t, s, c)
			} else {
				mustSync(t, s, c)
				mustSync(t, c, s)
			}

			assert.Equal(t, "server", textOf(t, s, k))
			assert.Equal(t, "server", textOf(t, c, k))

			// Converged: nothing left to exchange in either direction.
			assert.Zero(t, mustSync(t, s, c).Changed())
			assert.Zero(t, mustSync(t, c, s).Changed())
			assert.Equal(t, "server", textOf(t, s, k))
			assert.Equal(t, "server", textOf(t, c, k))
		})
	}
}

func TestMerge_CleanupKeepsAnchor(t *testing.T) {
	ctx := context.Background()
	a := newRecordProvider(t, 1, "a")
	leaf := newRecordProvider(t, 2, "leaf", WithMetadataCleanup())
	for i := uint64(1); i <= 3; i++ {
		put(t, a, key(1, i), "x")
		put(t, a, key(1, i), "y")
	}
	put(t, leaf, key(2, 1), "own")
	put(t, leaf, key(2, 1), "own2")

	mustSync(t, a, leaf)

	entries, err := leaf.Ledger().Entries(ctx)
	require.NoError(t, err)
	var fromA, own int
	for _, e := range entries {
		switch e.Replica {
		case 1:
			fromA++
		case 2:
			own++
		}
	}
	assert.Equal(t, 1, fromA, "only the latest entry of the origin replica remains")
	assert.Equal(t, 2, own, "replicas absent from the batch are untouched")
	assert.Equal(t, ir.Anchor{1: 6, 2: 2}, mustAnchor(t, leaf))

	// Still converged with a after truncation.
	d, err := a.ResolveDelta(ctx, mustAnchor(t, leaf))
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestMerge_CleanUpSyncMetadata(t *testing.T) {
	ctx := context.Background()
	p := newRecordProvider(t, 1, "a", WithMetadataCleanup())
	for i := 0; i < 4; i++ {
		put(t, p, key(1, 1), "x")
	}
	before := mustAnchor(t, p)
	delta, err := p.ResolveDelta(ctx, nil)
	require.NoError(t, err)

	n, err := p.CleanUpSyncMetadata(ctx, delta.Entries())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, before, mustAnchor(t, p))

	n, err = p.CleanUpSyncMetadata(ctx, delta.Entries())
	require.NoError(t, err)
	assert.Zero(t, n, "cleanup is idempotent")

	plain := newRecordProvider(t, 2, "b")
	_, err = plain.CleanUpSyncMetadata(ctx, nil)
	assert.True(t, IsUnsupported(err))
}
