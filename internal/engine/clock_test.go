package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockSequenceIsMonotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClockResumesFromSeed(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(42), c.Next())
}

func TestClockAdvanceNeverMovesBackward(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(5000), c.Advance(5000))
	assert.Equal(t, int64(5000), c.Advance(3000))
	assert.Equal(t, int64(5000), c.NowMS())
	assert.Equal(t, int64(7000), c.Advance(7000))
}

func TestClockConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	const goroutines, perG = 8, 1000

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perG)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, c.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, v := range local {
				assert.False(t, seen[v], "duplicate sequence %d", v)
				seen[v] = true
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perG)
}
