package graph

import "sync"

// DefaultErrorFeedSize is the number of recent failures kept for Status.
const DefaultErrorFeedSize = 50

// ErrorEntry is one recorded sync or graph-path failure.
type ErrorEntry struct {
	At       string `json:"at"`
	Source   string `json:"source"`
	MemoryID int64  `json:"memory_id,omitempty"`
	Message  string `json:"message"`
}

// ErrorFeed is a bounded in-process ring of recent failures plus a running
// total. It is safe for concurrent use.
type ErrorFeed struct {
	mu      sync.Mutex
	entries []ErrorEntry
	next    int
	full    bool
	total   int64
}

// NewErrorFeed creates a feed keeping the last size entries.
func NewErrorFeed(size int) *ErrorFeed {
	if size <= 0 {
		size = DefaultErrorFeedSize
	}
	return &ErrorFeed{entries: make([]ErrorEntry, size)}
}

// Add records a failure, stamping it when At is empty.
func (f *ErrorFeed) Add(e ErrorEntry) {
	if e.At == "" {
		e.At = now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[f.next] = e
	f.next = (f.next + 1) % len(f.entries)
	if f.next == 0 {
		f.full = true
	}
	f.total++
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (f *ErrorFeed) Recent(limit int) []ErrorEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.next
	if f.full {
		n = len(f.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ErrorEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (f.next - 1 - i + len(f.entries)) % len(f.entries)
		out = append(out, f.entries[idx])
	}
	return out
}

// Total returns the number of failures recorded since start.
func (f *ErrorFeed) Total() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
