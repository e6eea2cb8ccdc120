package interfaces

import "context"

// KeySize is the symmetric key length in bytes (AES-256).
const KeySize = 32

// KeyService owns the symmetric key material for the codec. The key is an
// injected dependency, never process-global state, so rotation and
// multi-tenant keys stay unit-testable.
//
// SetKey atomically replaces the active key. Every token produced under the
// previous key becomes undecryptable, which is why rotation must re-encrypt
// the full POI store before traffic resumes (the query engine owns that
// orchestration and its exclusivity gate).
type KeyService interface {
	// CurrentKey returns the active KeySize-byte key.
	CurrentKey() []byte

	// KeyVersion returns a monotonically increasing version counter,
	// bumped on every SetKey.
	KeyVersion() uint64

	// SetKey installs a new key. Rejects material shorter than KeySize.
	SetKey(key []byte) error
}

// KeySource fetches initial key material from an external secret store,
// e.g. HashiCorp Vault or a local seed.
type KeySource interface {
	// FetchKey retrieves KeySize bytes of key material.
	FetchKey(ctx context.Context) ([]byte, error)
}

// AuditSink receives one entry per executed query. Implementations must
// deduplicate on QueryID so a retried query logs at most once, and must
// never be handed decrypted predicate contents.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
