package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

func record(seq uint64, text string) ir.Record {
	return ir.Record{Key: ir.NewKey(1, 1, seq), Fields: ir.Fields{"text": ir.String(text)}}
}

func TestMemory_InsertGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")

	r := record(1, "a")
	require.NoError(t, m.Insert(ctx, r))

	got, ok, err := m.Get(ctx, r.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.String("a"), got.Get("text"))

	require.NoError(t, m.Update(ctx, record(1, "b")))
	got, _, _ = m.Get(ctx, r.Key)
	assert.Equal(t, ir.String("b"), got.Get("text"))

	require.NoError(t, m.Delete(ctx, r.Key))
	_, ok, err = m.Get(ctx, r.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")

	require.NoError(t, m.Insert(ctx, record(1, "a")))
	assert.ErrorIs(t, m.Insert(ctx, record(1, "a")), ErrExists)
	assert.ErrorIs(t, m.Update(ctx, record(2, "x")), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, ir.NewKey(1, 1, 9)), ErrNotFound)
}

func TestMemory_AllOrderedByKey(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")

	for _, seq := range []uint64{3, 1, 2} {
		require.NoError(t, m.Insert(ctx, record(seq, "x")))
	}

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, uint64(i+1), r.Key.Seq())
	}

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")

	r := record(1, "a")
	require.NoError(t, m.Insert(ctx, r))
	r.Fields["text"] = ir.String("mutated")

	got, _, _ := m.Get(ctx, r.Key)
	assert.Equal(t, ir.String("a"), got.Get("text"), "caller map must not alias stored row")

	got.Fields["text"] = ir.String("mutated again")
	again, _, _ := m.Get(ctx, r.Key)
	assert.Equal(t, ir.String("a"), again.Get("text"))
}

func TestMemory_NotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")

	var events []Event[ir.Record]
	unsubscribe := m.Subscribe(func(ctx context.Context, ev Event[ir.Record]) error {
		// Handlers run while the write lock is held.
		assert.Equal(t, synclock.Write, m.Lock().Held(ctx))
		events = append(events, ev)
		return nil
	})

	require.NoError(t, m.Insert(ctx, record(1, "a")))
	require.NoError(t, m.Update(ctx, record(1, "b")))
	require.NoError(t, m.Delete(ctx, record(1, "").Key))

	require.Len(t, events, 3)
	assert.Equal(t, ir.ActionInsert, events[0].Action)
	assert.Equal(t, ir.ActionUpdate, events[1].Action)
	assert.Equal(t, ir.ActionDelete, events[2].Action)

	unsubscribe()
	unsubscribe()
	require.NoError(t, m.Insert(ctx, record(2, "c")))
	assert.Len(t, events, 3, "no events after unsubscribe")
	assert.Equal(t, 0, m.Notifier.Len())
}

func TestMemory_HandlerErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewRecordMemory("notes")
	require.NoError(t, m.Insert(ctx, record(1, "a")))

	boom := errors.New("ledger full")
	m.Subscribe(func(context.Context, Event[ir.Record]) error { return boom })

	assert.ErrorIs(t, m.Insert(ctx, record(2, "b")), boom)
	assert.ErrorIs(t, m.Update(ctx, record(1, "z")), boom)
	assert.ErrorIs(t, m.Delete(ctx, record(1, "").Key), boom)

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ir.String("a"), all[0].Get("text"))
}

func TestMemory_MutationReentersHeldLock(t *testing.T) {
	m := NewRecordMemory("notes", WithLock[ir.Record](synclock.New("notes", synclock.WithTimeout(50*time.Millisecond))))

	ctx, release, err := m.Lock().AcquireWrite(context.Background())
	require.NoError(t, err)
	defer release()

	// Would time out if Insert tried to take the lock a second time.
	require.NoError(t, m.Insert(ctx, record(1, "a")))
	_, ok, err := m.Get(ctx, record(1, "").Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ReadBlockedByWriter(t *testing.T) {
	m := NewRecordMemory("notes", WithLock[ir.Record](synclock.New("notes", synclock.WithTimeout(20*time.Millisecond))))

	_, release, err := m.Lock().AcquireWrite(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = m.All(context.Background())
	assert.ErrorIs(t, err, synclock.ErrTimeout)
}

type note struct {
	ID   ir.Key
	Text string
}

func TestMemory_TypedEntities(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("notes", func(n note) ir.Key { return n.ID })

	n := note{ID: ir.NewKey(2, 1, 1), Text: "hi"}
	require.NoError(t, m.Insert(ctx, n))

	got, ok, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, got)
}
