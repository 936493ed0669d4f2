package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the history.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// History is a thread-safe circular buffer of recent log entries.
type History struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	seq     uint64
	mu      sync.RWMutex
}

// NewHistory creates a history holding up to size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Write adds an entry, overwriting the oldest one if full. It returns the
// entry with its sequence number assigned.
func (h *History) Write(entry LogEntry) LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	entry.Seq = h.seq
	h.entries[h.head] = entry
	h.head = (h.head + 1) % h.size

	if h.count < h.size {
		h.count++
	}
	return entry
}

// ReadAll returns all entries in chronological order.
func (h *History) ReadAll() []LogEntry {
	return h.Tail(0)
}

// Tail returns the newest n entries in chronological order, or all of them
// when n <= 0.
func (h *History) Tail(n int) []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return nil
	}
	if n <= 0 || n > h.count {
		n = h.count
	}

	result := make([]LogEntry, n)
	start := (h.head - n + h.size) % h.size
	for i := range n {
		result[i] = h.entries[(start+i)%h.size]
	}
	return result
}

// Since returns the entries with a sequence number above seq.
func (h *History) Since(seq uint64) []LogEntry {
	all := h.ReadAll()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

// Count returns the number of entries held.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
