package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/repo"
)

func newTracked(t *testing.T) (*repo.Memory[ir.Record], *Tracker[ir.Record]) {
	t.Helper()
	r := repo.NewRecordMemory("notes")
	tr := Track[ir.Record](r, New(NewMemoryBackend(), article), 1)
	t.Cleanup(tr.Close)
	return r, tr
}

func rec(seq uint64, text string) ir.Record {
	return ir.Record{Key: key(seq), Fields: ir.Fields{"text": ir.String(text)}}
}

func TestTracker_RecordsMutations(t *testing.T) {
	ctx := context.Background()
	r, tr := newTracked(t)

	require.NoError(t, r.Insert(ctx, rec(1, "a")))
	require.NoError(t, r.Update(ctx, rec(1, "b")))
	require.NoError(t, r.Delete(ctx, key(1)))

	entries, err := tr.Ledger().Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	wantActions := []ir.Action{ir.ActionInsert, ir.ActionUpdate, ir.ActionDelete}
	for i, e := range entries {
		assert.Equal(t, wantActions[i], e.Action)
		assert.Equal(t, ir.ReplicaID(1), e.Replica)
		assert.Equal(t, ir.Version(i+1), e.Version)
		assert.Equal(t, key(1), e.Key)
	}
}

func TestTracker_SuspendNests(t *testing.T) {
	ctx := context.Background()
	r, tr := newTracked(t)

	outer := tr.Suspend()
	inner := tr.Suspend()
	require.NoError(t, r.Insert(ctx, rec(1, "a")))

	inner()
	inner()
	assert.True(t, tr.Suspended(), "outer suspension still active")
	require.NoError(t, r.Insert(ctx, rec(2, "b")))

	outer()
	assert.False(t, tr.Suspended())
	require.NoError(t, r.Insert(ctx, rec(3, "c")))

	entries, err := tr.Ledger().Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key(3), entries[0].Key)
}

func TestTracker_CloseStopsRecording(t *testing.T) {
	ctx := context.Background()
	r, tr := newTracked(t)
	tr.Close()

	require.NoError(t, r.Insert(ctx, rec(1, "a")))
	entries, err := tr.Ledger().Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
