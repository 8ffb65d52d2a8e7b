package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator hands out predictable IDs: prefix-1, prefix-2, ...
//
// Engine tests and golden traces use it in place of UUIDv7 so that the same
// scenario always yields the same token and instance IDs.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator returns a generator for prefix. An empty prefix
// yields "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next ID. Safe for concurrent use.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
