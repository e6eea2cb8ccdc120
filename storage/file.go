package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// FileBackend stores one JSON document per record under a base directory.
// Writes go through a temp file and rename so a reader never observes a
// torn record. A coarse lock serializes multi-record operations, which is
// what makes PutBatch and Clear atomic with respect to Snapshot.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string

	mu sync.RWMutex
}

// NewFileBackend creates a file store rooted at baseDir, creating the
// directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "pois"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put stores or replaces one record.
func (b *FileBackend) Put(ctx context.Context, rec interfaces.POIRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeRecord(rec)
}

// PutBatch stores a chunk of records. All files are staged before any is
// renamed into place, so a failure mid-batch leaves no half-written record
// visible.
func (b *FileBackend) PutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make([]string, 0, len(recs))
	for _, rec := range recs {
		tmp, err := b.stageRecord(rec)
		if err != nil {
			for _, t := range staged {
				os.Remove(t)
			}
			return err
		}
		staged = append(staged, tmp)
	}

	for i, tmp := range staged {
		if err := os.Rename(tmp, b.recordPath(recs[i].ID)); err != nil {
			return fmt.Errorf("failed to commit record %s: %w", recs[i].ID, err)
		}
	}
	return nil
}

// Get retrieves a record by id.
func (b *FileBackend) Get(ctx context.Context, id string) (interfaces.POIRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := os.ReadFile(b.recordPath(id))
	if os.IsNotExist(err) {
		return interfaces.POIRecord{}, interfaces.ErrPOINotFound
	}
	if err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("failed to read record: %w", err)
	}

	var rec interfaces.POIRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes one record. Absent ids are not an error.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.recordPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Clear removes every record.
func (b *FileBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Join(b.baseDir, "pois")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return os.MkdirAll(dir, 0755)
}

// Snapshot reads every record under the lock, giving queries a consistent
// view of the store as of request start.
func (b *FileBackend) Snapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(b.baseDir, "pois"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	out := make([]interfaces.POIRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.baseDir, "pois", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", entry.Name(), err)
		}
		var rec interfaces.POIRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			b.log.Warn("Skipping corrupt record file", slog.String("file", entry.Name()), "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns up to limit records, most recently uploaded first.
func (b *FileBackend) List(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	recs, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sortByUploadedAtDesc(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Available checks the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns the backend identifier.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *FileBackend) recordPath(id string) string {
	return filepath.Join(b.baseDir, "pois", id+".json")
}

func (b *FileBackend) stageRecord(rec interfaces.POIRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	tmp, err := os.CreateTemp(b.baseDir, ".staged-*")
	if err != nil {
		return "", fmt.Errorf("failed to stage record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write staged record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close staged record: %w", err)
	}
	return tmp.Name(), nil
}

func (b *FileBackend) writeRecord(rec interfaces.POIRecord) error {
	tmp, err := b.stageRecord(rec)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, b.recordPath(rec.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}
