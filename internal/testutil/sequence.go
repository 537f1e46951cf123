package testutil

import (
	"fmt"
	"sync"
)

// Sequence is a resettable monotonic counter for tests.
//
// The first call to Next returns 1. Safe for concurrent use.
type Sequence struct {
	mu sync.Mutex
	n  int64
}

// Next increments and returns the counter.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// Current returns the counter without incrementing.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset sets the counter back to 0.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}

// SequentialGenerator yields handle tokens "<prefix>-1", "<prefix>-2", ...
//
// Same calls in the same order produce the same tokens, which keeps golden
// traces byte-identical across runs.
type SequentialGenerator struct {
	prefix string
	seq    Sequence
}

// NewSequentialGenerator creates a generator. An empty prefix means "h".
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "h"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate implements unitofwork.HandleGenerator.
func (g *SequentialGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.seq.Next())
}

// Reset restarts the sequence.
func (g *SequentialGenerator) Reset() {
	g.seq.Reset()
}
