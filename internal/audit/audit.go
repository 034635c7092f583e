// Package audit records security-relevant decisions made during a run.
// The log is an owned, injectable resource: each run constructs its own
// instance and hands it to the components that need it.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultCapacity bounds the in-memory entry ring.
const DefaultCapacity = 1000

// Entry is a single audited event.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Outcome   string            `json:"outcome"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Log is a bounded in-memory audit trail. When the capacity is exceeded the
// oldest entries are discarded.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewLog returns a Log with the default capacity.
func NewLog() *Log {
	return NewLogWithCapacity(DefaultCapacity)
}

// NewLogWithCapacity returns a Log holding at most capacity entries.
func NewLogWithCapacity(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{cap: capacity}
}

// Record appends an entry, evicting the oldest when full.
func (l *Log) Record(action, outcome string, detail map[string]string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		Timestamp: time.Now(),
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
	})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Entries returns a copy of the current trail, oldest first.
func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dump writes the trail as indented JSON to path.
func (l *Log) Dump(path string) error {
	data, err := json.MarshalIndent(l.Entries(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit log: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
