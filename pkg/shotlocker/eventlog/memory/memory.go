package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// Log is an in-memory implementation of the shotlocker.EventLog interface
type Log struct {
	mu      sync.RWMutex
	entries map[string][]shotlocker.LogEntry
}

// New creates a new in-memory event log
func New() *Log {
	return &Log{entries: make(map[string][]shotlocker.LogEntry)}
}

// Append records a message for an edit
func (l *Log) Append(ctx context.Context, entry shotlocker.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.EditID] = append(l.entries[entry.EditID], entry)
	return nil
}

// Entries returns an edit's messages in append order
func (l *Log) Entries(ctx context.Context, editID string) ([]shotlocker.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := slices.Clone(l.entries[editID])
	if entries == nil {
		entries = []shotlocker.LogEntry{}
	}
	return entries, nil
}

// Messages returns only the message text of an edit's entries
func (l *Log) Messages(editID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := make([]string, 0, len(l.entries[editID]))
	for _, e := range l.entries[editID] {
		msgs = append(msgs, e.Message)
	}
	return msgs
}

var _ shotlocker.EventLog = (*Log)(nil)
