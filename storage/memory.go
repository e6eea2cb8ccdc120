// Package storage provides POI store backends selected by location URI:
// in-memory, local file system, PostgreSQL, Redis and S3. All backends
// store records with the payload already encrypted; no backend ever sees a
// plaintext coordinate.
package storage

import (
	"context"
	"sync"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// MemoryBackend is a mutex-guarded in-memory store. It is the default for
// development and the reference implementation for the store contract
// tests: every write is atomic and Snapshot is a point-in-time copy.
type MemoryBackend struct {
	mu   sync.RWMutex
	recs map[string]interfaces.POIRecord
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{recs: make(map[string]interfaces.POIRecord)}
}

// Put stores or replaces one record.
func (b *MemoryBackend) Put(ctx context.Context, rec interfaces.POIRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs[rec.ID] = rec
	return nil
}

// PutBatch stores a chunk of records under one lock acquisition, so the
// whole batch becomes visible at once.
func (b *MemoryBackend) PutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range recs {
		b.recs[rec.ID] = rec
	}
	return nil
}

// Get retrieves a record by id.
func (b *MemoryBackend) Get(ctx context.Context, id string) (interfaces.POIRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.recs[id]
	if !ok {
		return interfaces.POIRecord{}, interfaces.ErrPOINotFound
	}
	return rec, nil
}

// Delete removes one record.
func (b *MemoryBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.recs, id)
	return nil
}

// Clear removes everything.
func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs = make(map[string]interfaces.POIRecord)
	return nil
}

// Snapshot returns a point-in-time copy of all records.
func (b *MemoryBackend) Snapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]interfaces.POIRecord, 0, len(b.recs))
	for _, rec := range b.recs {
		out = append(out, rec)
	}
	return out, nil
}

// List returns up to limit records, most recently uploaded first.
func (b *MemoryBackend) List(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	recs, _ := b.Snapshot(ctx)
	sortByUploadedAtDesc(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns the backend identifier.
func (b *MemoryBackend) Name() string {
	return "memory"
}
