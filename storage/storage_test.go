package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

func testRecord(id string, uploadedAt time.Time) interfaces.POIRecord {
	return interfaces.POIRecord{
		ID:               id,
		Name:             "poi " + id,
		EncryptedPayload: "000000000000000000000000:cafebabe",
		SpatialIndexKey:  "dr5regw3",
		Category:         "other",
		UploadedBy:       "tester",
		UploadedAt:       uploadedAt,
	}
}

// testBackends builds one of each local backend so the contract tests run
// against all of them.
func testBackends(t *testing.T) map[string]interfaces.POIStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fileBackend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	return map[string]interfaces.POIStore{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
	}
}

// TestStoreContractPutGetDelete runs the basic record lifecycle against
// every local backend.
func TestStoreContractPutGetDelete(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := testRecord("rec-1", time.Now().UTC().Truncate(time.Second))

			_, err := store.Get(ctx, "rec-1")
			require.ErrorIs(t, err, interfaces.ErrPOINotFound)

			require.NoError(t, store.Put(ctx, rec))
			got, err := store.Get(ctx, "rec-1")
			require.NoError(t, err)
			require.Equal(t, rec.ID, got.ID)
			require.Equal(t, rec.EncryptedPayload, got.EncryptedPayload)
			require.Equal(t, rec.SpatialIndexKey, got.SpatialIndexKey)

			// Put replaces.
			rec.Name = "renamed"
			require.NoError(t, store.Put(ctx, rec))
			got, err = store.Get(ctx, "rec-1")
			require.NoError(t, err)
			require.Equal(t, "renamed", got.Name)

			require.NoError(t, store.Delete(ctx, "rec-1"))
			_, err = store.Get(ctx, "rec-1")
			require.ErrorIs(t, err, interfaces.ErrPOINotFound)

			// Deleting an absent id is not an error.
			require.NoError(t, store.Delete(ctx, "never-existed"))
		})
	}
}

// TestStoreContractBatchAndSnapshot checks batch writes land completely and
// Snapshot returns every record.
func TestStoreContractBatchAndSnapshot(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			batch := make([]interfaces.POIRecord, 50)
			for i := range batch {
				batch[i] = testRecord(fmt.Sprintf("rec-%03d", i), time.Now().UTC())
			}
			require.NoError(t, store.PutBatch(ctx, batch))

			snapshot, err := store.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, snapshot, 50)

			seen := make(map[string]struct{}, len(snapshot))
			for _, rec := range snapshot {
				seen[rec.ID] = struct{}{}
			}
			for _, rec := range batch {
				require.Contains(t, seen, rec.ID)
			}

			require.NoError(t, store.Clear(ctx))
			snapshot, err = store.Snapshot(ctx)
			require.NoError(t, err)
			require.Empty(t, snapshot)
		})
	}
}

// TestStoreContractListOrder checks List returns newest first and honors
// the limit.
func TestStoreContractListOrder(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				require.NoError(t, store.Put(ctx, testRecord(
					fmt.Sprintf("rec-%d", i), base.Add(time.Duration(i)*time.Hour))))
			}

			recs, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, recs, 5)
			for i := 1; i < len(recs); i++ {
				require.False(t, recs[i].UploadedAt.After(recs[i-1].UploadedAt))
			}

			limited, err := store.List(ctx, 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			require.Equal(t, "rec-4", limited[0].ID)
			require.Equal(t, "rec-3", limited[1].ID)
		})
	}
}

func TestStoreContractAvailable(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.True(t, store.Available(context.Background()))
			require.NotEmpty(t, store.Name())
		})
	}
}

// TestFileBackendPersistence checks a new backend over the same directory
// sees previously written records.
func TestFileBackendPersistence(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	first, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), testRecord("persisted", time.Now().UTC())))

	second, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	got, err := second.Get(context.Background(), "persisted")
	require.NoError(t, err)
	require.Equal(t, "persisted", got.ID)
}

// TestFileBackendSkipsCorruptFiles checks Snapshot warns and continues past
// a file that is not valid JSON.
func TestFileBackendSkipsCorruptFiles(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), testRecord("good", time.Now().UTC())))

	corrupt := filepath.Join(dir, "pois", "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0644))

	snapshot, err := backend.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	require.Equal(t, "good", snapshot[0].ID)
}

// TestFileBackendNoTornWrites checks no staged temp file is left visible as
// a record after a batch.
func TestFileBackendNoTornWrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)

	batch := []interfaces.POIRecord{
		testRecord("a", time.Now().UTC()),
		testRecord("b", time.Now().UTC()),
	}
	require.NoError(t, backend.PutBatch(context.Background(), batch))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".staged-")
	}
}

func TestMemoryBackendSnapshotIsCopy(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, testRecord("rec-1", time.Now().UTC())))

	snapshot, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	snapshot[0].Name = "mutated"

	got, err := backend.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.Equal(t, "poi rec-1", got.Name)
}
