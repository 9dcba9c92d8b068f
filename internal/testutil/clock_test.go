package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Now())
}

func TestClock_TickIsMonotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Tick())
	assert.Equal(t, int64(2), c.Tick())
	assert.Equal(t, int64(2), c.Now())
}

func TestClock_Reset(t *testing.T) {
	c := NewClock()
	c.Tick()
	c.Tick()
	c.Reset()

	assert.Equal(t, int64(0), c.Now())
	assert.Equal(t, int64(1), c.Tick())
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	const goroutines, ticks = 50, 100

	seen := make(chan int64, goroutines*ticks)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ticks {
				seen <- c.Tick()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for s := range seen {
		assert.False(t, unique[s], "step %d handed out twice", s)
		unique[s] = true
	}
	assert.Equal(t, int64(goroutines*ticks), c.Now())
}
