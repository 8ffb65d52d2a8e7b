package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGenerator_Ordered(t *testing.T) {
	gen := NewSequenceGenerator("tok")

	assert.Equal(t, "tok-1", gen.Generate())
	assert.Equal(t, "tok-2", gen.Generate())
	assert.Equal(t, "tok-3", gen.Generate())
}

func TestSequenceGenerator_EmptyPrefix(t *testing.T) {
	gen := NewSequenceGenerator("")
	assert.Equal(t, "id-1", gen.Generate())
}

func TestSequenceGenerator_Reset(t *testing.T) {
	gen := NewSequenceGenerator("inst")
	gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, "inst-1", gen.Generate())
}

func TestSequenceGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceGenerator("t")
	const workers = 20
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}
