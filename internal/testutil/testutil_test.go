package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), c.Now())
}

func TestSteppingClock(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("id-")
	assert.Equal(t, "id-0001", g.Generate())
	assert.Equal(t, "id-0002", g.Generate())
	g.Reset()
	assert.Equal(t, "id-0001", g.Generate())
}

func TestSequenceGeneratorConcurrent(t *testing.T) {
	g := NewSequenceGenerator("")
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(g.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}
