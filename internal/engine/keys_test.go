package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replisync/internal/ir"
)

func TestKeySequence_New(t *testing.T) {
	s := NewKeySequence(3, 1)
	assert.Equal(t, uint64(0), s.Current(), "new sequence should start at 0")
}

func TestKeySequence_NewAt(t *testing.T) {
	s := NewKeySequenceAt(3, 1, 100)
	assert.Equal(t, uint64(100), s.Current())
	assert.Equal(t, uint64(101), s.Next().Seq())
}

func TestKeySequence_NextEmbedsReplicaAndArticle(t *testing.T) {
	s := NewKeySequence(3, 9)

	k := s.Next()
	assert.Equal(t, ir.ReplicaID(3), k.Replica())
	assert.Equal(t, ir.ArticleID(9), k.Article())
	assert.Equal(t, uint64(1), k.Seq())
	assert.Equal(t, uint64(2), s.Next().Seq())
}

func TestKeySequence_ReplicasNeverCollide(t *testing.T) {
	a := NewKeySequence(1, 1)
	b := NewKeySequence(2, 1)

	for range 10 {
		assert.NotEqual(t, a.Next(), b.Next())
	}
}

func TestKeySequence_Observe(t *testing.T) {
	s := NewKeySequence(3, 1)

	s.Observe(ir.NewKey(3, 1, 41))
	assert.Equal(t, uint64(42), s.Next().Seq())

	s.Observe(ir.NewKey(3, 1, 5))
	assert.Equal(t, uint64(42), s.Current(), "observe never lowers the sequence")

	s.Observe(ir.NewKey(4, 1, 1000))
	s.Observe(ir.NewKey(3, 2, 1000))
	assert.Equal(t, uint64(42), s.Current(), "keys of other replicas or articles are ignored")
}

func TestKeySequence_ThreadSafe(t *testing.T) {
	s := NewKeySequence(1, 1)
	const goroutines = 100
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	keys := make(chan ir.Key, goroutines*callsPerGoroutine)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				keys <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[ir.Key]bool)
	for k := range keys {
		assert.False(t, seen[k], "key %s minted twice", k)
		seen[k] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
	assert.Equal(t, uint64(goroutines*callsPerGoroutine), s.Current())
}
