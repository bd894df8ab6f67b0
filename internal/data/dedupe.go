package data

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplication capacity. A false positive only costs an EXISTS query.
const (
	dedupeCapacity = 100000
	dedupeFPRate   = 0.001
)

// seenMatches is a probabilistic set of match keys already stored
type seenMatches struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newSeenMatches() *seenMatches {
	return &seenMatches{filter: bloom.NewWithEstimates(dedupeCapacity, dedupeFPRate)}
}

// MaybeSeen reports false only when key was definitely never added
func (s *seenMatches) MaybeSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.TestString(key)
}

func (s *seenMatches) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.AddString(key)
}

func (s *seenMatches) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = bloom.NewWithEstimates(dedupeCapacity, dedupeFPRate)
}
