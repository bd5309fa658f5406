package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "prefix-1", "prefix-2", ... identifiers.
//
// Unlike engine.FixedGenerator it never exhausts, which suits scenario
// runs where the exact number of ids is not known up front. Ids remain
// deterministic: the nth call always returns the same value.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator with the given prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset rewinds the sequence for test reuse.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
