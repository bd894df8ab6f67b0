package state

import "time"

// HistorySize is how many entries the debug history keeps
const HistorySize = 100

// HistoryEntry is one debug record. Not authoritative for anything.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// History is a fixed-size ring buffer; the oldest entry is overwritten.
// Callers synchronize access.
type History struct {
	entries []HistoryEntry
	start   int
	size    int
}

// NewHistory creates a ring with the given capacity
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistorySize
	}
	return &History{entries: make([]HistoryEntry, capacity)}
}

// Add appends e
func (h *History) Add(e HistoryEntry) {
	idx := (h.start + h.size) % len(h.entries)
	h.entries[idx] = e
	if h.size < len(h.entries) {
		h.size++
		return
	}
	h.start = (h.start + 1) % len(h.entries)
}

// Len returns the number of stored entries
func (h *History) Len() int {
	return h.size
}

// Entries returns a copy, oldest first
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.entries[(h.start+i)%len(h.entries)]
	}
	return out
}
