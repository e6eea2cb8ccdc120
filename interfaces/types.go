// Package interfaces defines the core types and component contracts for the
// encrypted POI query system. It provides the contract between components
// without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Coordinates is a WGS 84 latitude/longitude pair in decimal degrees.
// Plaintext coordinates only ever exist transiently: during indexing at
// upload time and inside the predicate evaluator's stack frame.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the pair against the WGS 84 domain. NaN fails both
// range comparisons without tripping them, so it needs its own check.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, c.Lat)
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, c.Lng)
	}
	return nil
}

// EncryptedToken is a symmetric-ciphertext wire token in the
// "<ivHex>:<ciphertextHex>" format produced by the codec.
type EncryptedToken string

// String returns the raw token.
func (t EncryptedToken) String() string {
	return string(t)
}

// Validate performs a cheap structural check without decrypting.
func (t EncryptedToken) Validate() error {
	parts := strings.SplitN(string(t), ":", 2)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return fmt.Errorf("%w: token must be <ivHex>:<ciphertextHex>", ErrDecryptionFailed)
	}
	return nil
}

// POIPayload is the sensitive portion of a POI record. It is JSON-encoded
// and sealed into POIRecord.EncryptedPayload; it never appears in any store,
// log, or API response in plaintext.
type POIPayload struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description,omitempty"`
}

// POIRecord is a stored point of interest.
//
// SpatialIndexKey is derived exactly once, at creation, from the plaintext
// coordinates that exist transiently during indexing; it is never re-derived
// from ciphertext. It is stored in plaintext next to the ciphertext as a
// deliberate privacy/performance trade-off: coarser index precision leaks
// less location but prunes worse. Name and Category are plaintext by design
// so listings and category filters work without decryption.
type POIRecord struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	EncryptedPayload EncryptedToken `json:"encryptedPayload"`
	SpatialIndexKey  string         `json:"spatialIndexKey"`
	Category         string         `json:"category"`
	UploadedBy       string         `json:"uploadedBy"`
	UploadedAt       time.Time      `json:"uploadedAt"`
}

// QueryPredicate is the encrypted, self-describing query token built client
// side. It carries no plaintext coordinate or radius. Ephemeral: built per
// request, consumed once, never persisted beyond an audit entry that
// excludes its encrypted fields.
type QueryPredicate struct {
	EncryptedCenter EncryptedToken `json:"encryptedCenter"`
	EncryptedRadius EncryptedToken `json:"encryptedRadius"`
	QueryID         string         `json:"queryId"`
	Timestamp       time.Time      `json:"timestamp"`

	// Category optionally filters candidates on the plaintext category tag.
	Category string `json:"category,omitempty"`
}

// Validate checks structural integrity of an incoming predicate.
func (p QueryPredicate) Validate() error {
	if p.QueryID == "" {
		return fmt.Errorf("%w: missing queryId", ErrValidation)
	}
	if err := p.EncryptedCenter.Validate(); err != nil {
		return fmt.Errorf("%w: malformed encrypted center", ErrValidation)
	}
	if err := p.EncryptedRadius.Validate(); err != nil {
		return fmt.Errorf("%w: malformed encrypted radius", ErrValidation)
	}
	return nil
}

// POIMatch is one query hit. It carries non-sensitive fields only; the
// decrypted coordinates never leave the evaluator.
type POIMatch struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category"`
	Metadata string `json:"metadata,omitempty"`
}

// QueryResult aggregates the outcome of one range query. Matches are sorted
// by POI id so output is deterministic.
type QueryResult struct {
	QueryID         string     `json:"queryId"`
	Matches         []POIMatch `json:"matches"`
	TotalScanned    int        `json:"totalScanned"`
	DecryptFailures int        `json:"decryptFailures"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
}

// AuditEntry records that a query ran, never what it asked.
type AuditEntry struct {
	QueryID     string    `json:"queryId"`
	RequesterID string    `json:"requesterId"`
	ResultCount int       `json:"resultCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// BatchProgress reports one committed chunk of a bulk upload.
type BatchProgress struct {
	Batch    int `json:"batch"`
	Uploaded int `json:"uploaded"`
	Total    int `json:"total"`
}

// Typed failure outcomes. Every internal failure resolves to one of these;
// none of them is allowed to crash the serving process.
var (
	// ErrValidation rejects malformed coordinates or radius before any
	// cryptographic operation runs.
	ErrValidation = errors.New("validation failed")

	// ErrDecryptionFailed marks a malformed, tampered, or wrong-key token.
	// During scans it is swallowed per candidate and counted, never raised.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrStoreUnavailable fails a whole query fast when the POI store is
	// unreachable. No partial results; safe to retry.
	ErrStoreUnavailable = errors.New("poi store unavailable")

	// ErrThrottled rejects a request that exceeds the caller's concurrent
	// query or request-rate budget.
	ErrThrottled = errors.New("throttled")

	// ErrBusyRotating rejects operations while a key rotation holds the
	// engine exclusively. Retryable once rotation completes.
	ErrBusyRotating = errors.New("key rotation in progress")

	// ErrTimeout aborts a query whose store I/O exceeded its deadline.
	ErrTimeout = errors.New("store operation timed out")

	// ErrPOINotFound reports a missing record id.
	ErrPOINotFound = errors.New("poi not found")

	// ErrInvalidLocationURI reports an unparsable storage backend URI.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
