package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predetermined ids in order, for deterministic
// pass ids in golden output.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedIDGenerator("pass-1", "pass-2")
//	gen.Generate() // "pass-1"
//	gen.Generate() // "pass-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// SequentialIDs returns a generator of n ids "{prefix}-1" .. "{prefix}-n".
func SequentialIDs(prefix string, n int) *FixedIDGenerator {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return NewFixedIDGenerator(ids...)
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test that ran more
// passes than it expected.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
