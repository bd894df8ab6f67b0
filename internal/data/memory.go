package data

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

// MemoryStore is a volatile match log used by tests and by storage.driver
// "memory"
type MemoryStore struct {
	mu      sync.RWMutex
	matches []MatchRecord
	keys    map[string]struct{}
	nextID  int64
	closed  bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{}), nextID: 1}
}

// RecordMatch implements MatchLog
func (m *MemoryStore) RecordMatch(_ context.Context, rec MatchRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return m.insertLocked(rec)
}

func (m *MemoryStore) insertLocked(rec MatchRecord) (int64, error) {
	rec.Timestamp = rec.Timestamp.UTC()
	key := rec.Key()
	if _, ok := m.keys[key]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateMatch, key)
	}
	rec.ID = m.nextID
	m.nextID++
	m.keys[key] = struct{}{}
	m.matches = append(m.matches, rec)
	return rec.ID, nil
}

// ImportMatches adds every valid record that is not already stored
func (m *MemoryStore) ImportMatches(_ context.Context, recs []MatchRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	n := 0
	for _, rec := range recs {
		if rec.Validate() != nil {
			continue
		}
		if _, err := m.insertLocked(rec); err == nil {
			n++
		}
	}
	return n, nil
}

// GetMatchStats implements MatchLog
func (m *MemoryStore) GetMatchStats(_ context.Context, filter *TimeFilter) (stats.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return stats.Snapshot{}, ErrStoreClosed
	}

	var (
		counts = make(map[string]*raceCount)
		last   *MatchRecord
	)
	for i := range m.matches {
		rec := &m.matches[i]
		if !filter.Contains(rec.Timestamp) {
			continue
		}
		rc, ok := counts[string(rec.OpponentRace)]
		if !ok {
			rc = &raceCount{race: string(rec.OpponentRace)}
			counts[rc.race] = rc
		}
		if rec.Result == sc2.ResultVictory {
			rc.wins++
		} else {
			rc.losses++
		}
		if last == nil || newer(rec, last) {
			last = rec
		}
	}

	rows := make([]raceCount, 0, len(counts))
	for _, rc := range counts {
		rows = append(rows, *rc)
	}
	var lastCopy *MatchRecord
	if last != nil {
		c := *last
		lastCopy = &c
	}
	return assemble(rows, lastCopy), nil
}

// GetRecentMatches implements MatchLog
func (m *MemoryStore) GetRecentMatches(_ context.Context, limit int) ([]MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	out := append([]MatchRecord(nil), m.matches...)
	sort.SliceStable(out, func(i, j int) bool { return newer(&out[i], &out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored matches
func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matches), nil
}

// Close implements MatchLog
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// newer orders by timestamp, then insertion id, descending
func newer(a, b *MatchRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
