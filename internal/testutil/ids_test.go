package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator("in")
	assert.Equal(t, "in-0001", g.Generate())
	assert.Equal(t, "in-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "in-0001", g.Generate())
}

func TestSequentialIDGenerator_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-0001", NewSequentialIDGenerator("").Generate())
}

func TestSequentialIDGenerator_UniqueUnderConcurrency(t *testing.T) {
	g := NewSequentialIDGenerator("c")
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}
