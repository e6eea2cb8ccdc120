package interfaces

import "context"

// POIStore is the opaque keyed collection holding encrypted POI records.
// Implementations must make each individual write atomic: a reader never
// observes a torn record. PutBatch commits its whole chunk atomically where
// the backend supports it, bounding the visibility window of partial bulk
// uploads.
type POIStore interface {
	// Put stores or replaces one record.
	Put(ctx context.Context, rec POIRecord) error

	// PutBatch stores a chunk of records in one atomic commit.
	PutBatch(ctx context.Context, recs []POIRecord) error

	// Get retrieves a record by id. Returns ErrPOINotFound if absent.
	Get(ctx context.Context, id string) (POIRecord, error)

	// Delete removes one record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Snapshot returns a point-in-time copy of all records. Queries operate
	// on the snapshot; concurrent writes may or may not be visible.
	Snapshot(ctx context.Context) ([]POIRecord, error)

	// List returns up to limit records, most recently uploaded first.
	List(ctx context.Context, limit int) ([]POIRecord, error)

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this backend.
	Name() string
}

// StorageBackendLocation is a URI selecting and configuring a POI store
// backend, e.g. "memory://", "file:///var/lib/eplq", "postgres://…",
// "redis://…", "s3://bucket/prefix?region=eu-west-1".
type StorageBackendLocation string

// POIStoreFactory creates POI stores from location URIs.
type POIStoreFactory interface {
	StorageBackendFor(location StorageBackendLocation) (POIStore, error)
}
