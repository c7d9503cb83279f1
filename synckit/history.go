package synckit

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity is the number of resolved conflicts kept by default.
const DefaultHistoryCapacity = 50

// ConflictLogEntry records one resolved conflict.
type ConflictLogEntry struct {
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	Decision   Decision  `json:"decision"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ConflictLog is a bounded, newest-first history of resolved conflicts.
// Appending to a full log evicts the oldest entry.
type ConflictLog struct {
	mu      sync.RWMutex
	entries []ConflictLogEntry
	next    int
	size    int
}

// NewConflictLog returns a log holding at most capacity entries. A
// non-positive capacity means DefaultHistoryCapacity.
func NewConflictLog(capacity int) *ConflictLog {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &ConflictLog{entries: make([]ConflictLogEntry, capacity)}
}

// Append adds an entry.
func (l *ConflictLog) Append(e ConflictLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Entries returns a copy of the log, newest first.
func (l *ConflictLog) Entries() []ConflictLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ConflictLogEntry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

func (l *ConflictLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *ConflictLog) Cap() int { return len(l.entries) }

// Clear drops every entry.
func (l *ConflictLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i] = ConflictLogEntry{}
	}
	l.next, l.size = 0, 0
}
