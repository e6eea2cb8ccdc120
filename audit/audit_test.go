package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

func entry(queryID string) interfaces.AuditEntry {
	return interfaces.AuditEntry{
		QueryID:     queryID,
		RequesterID: "alice",
		ResultCount: 3,
		Timestamp:   time.Now().UTC(),
	}
}

// TestLogDedupe checks a retried query id is written exactly once.
func TestLogDedupe(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, entry("q-1")))
	require.NoError(t, sink.Record(ctx, entry("q-1")))
	require.NoError(t, sink.Record(ctx, entry("q-2")))

	out := buf.String()
	require.Equal(t, 2, bytes.Count([]byte(out), []byte("query executed")))
	require.Contains(t, out, "q-1")
	require.Contains(t, out, "q-2")
}

// TestLogNeverRecordsPredicateContents checks the log line carries only
// the whitelisted fields.
func TestLogNeverRecordsPredicateContents(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Record(context.Background(), entry("q-9")))

	out := buf.String()
	require.Contains(t, out, "queryId")
	require.Contains(t, out, "requesterId")
	require.Contains(t, out, "resultCount")
	require.NotContains(t, out, "encrypted")
	require.NotContains(t, out, "radius")
	require.NotContains(t, out, "lat")
}

// TestLogDedupeEviction checks the dedupe window is bounded: after the
// oldest id is evicted, a retry for it logs again.
func TestLogDedupeEviction(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, entry("first")))
	for i := 0; i < maxDedupeEntries; i++ {
		require.NoError(t, sink.Record(ctx, entry(fmt.Sprintf("fill-%d", i))))
	}

	buf.Reset()
	require.NoError(t, sink.Record(ctx, entry("first")))
	require.Contains(t, buf.String(), "first")
}

func TestMemorySink(t *testing.T) {
	sink := NewMemory()
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, entry("q-1")))
	require.NoError(t, sink.Record(ctx, entry("q-1")))
	require.NoError(t, sink.Record(ctx, entry("q-2")))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "q-1", entries[0].QueryID)
	require.Equal(t, "q-2", entries[1].QueryID)

	// The returned slice is a copy.
	entries[0].QueryID = "mutated"
	require.Equal(t, "q-1", sink.Entries()[0].QueryID)
}
