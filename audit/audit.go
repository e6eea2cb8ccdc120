// Package audit records query executions. An entry holds the query id,
// requester, result count and timestamp, never the predicate's decrypted
// contents. Sinks deduplicate on query id so a retried request logs at
// most once.
package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// maxDedupeEntries bounds the in-memory dedupe set. Oldest ids are evicted
// in insertion order once the bound is hit; a retry arriving after eviction
// logs again, which stays within the at-most-once-per-retained-window
// contract callers get.
const maxDedupeEntries = 100000

// Log is a slog-backed audit sink with in-memory query-id deduplication.
type Log struct {
	log *slog.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewLog creates an audit sink writing through the given logger.
func NewLog(log *slog.Logger) *Log {
	return &Log{
		log:  log,
		seen: make(map[string]struct{}),
	}
}

// Record writes one audit entry unless the query id was already recorded.
func (l *Log) Record(ctx context.Context, entry interfaces.AuditEntry) error {
	l.mu.Lock()
	if _, dup := l.seen[entry.QueryID]; dup {
		l.mu.Unlock()
		return nil
	}
	l.seen[entry.QueryID] = struct{}{}
	l.order = append(l.order, entry.QueryID)
	if len(l.order) > maxDedupeEntries {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
	l.mu.Unlock()

	l.log.Info("query executed",
		slog.String("queryId", entry.QueryID),
		slog.String("requesterId", entry.RequesterID),
		slog.Int("resultCount", entry.ResultCount),
		slog.Time("timestamp", entry.Timestamp))
	return nil
}

// Memory is an in-memory audit sink for tests.
type Memory struct {
	mu      sync.Mutex
	entries []interfaces.AuditEntry
	seen    map[string]struct{}
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// Record appends the entry unless its query id was already recorded.
func (m *Memory) Record(ctx context.Context, entry interfaces.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[entry.QueryID]; dup {
		return nil
	}
	m.seen[entry.QueryID] = struct{}{}
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *Memory) Entries() []interfaces.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]interfaces.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
