// Package predicate builds encrypted query predicates and evaluates them
// against stored POI records.
//
// Trust caveat, stated plainly: the evaluator decrypts both the predicate
// and the candidate payload and compares them in the clear. The "server
// never learns plaintext coordinates" property therefore only holds when
// evaluation runs somewhere the querying party already trusts with the
// symmetric key (client side, or inside a trusted enclave), not on an
// arbitrary multi-tenant host. This mirrors the deployed system's semantics
// rather than substituting a different cryptographic scheme.
package predicate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/interfaces"
)

// Builder turns a user's (center, radius, category) into an encrypted,
// self-describing predicate token. It runs client side relative to the
// trust boundary: the plaintext request exists only here and inside the
// evaluator.
type Builder struct {
	codec *cryptoutils.Codec
}

// NewBuilder creates a predicate builder over the given codec.
func NewBuilder(codec *cryptoutils.Codec) *Builder {
	return &Builder{codec: codec}
}

// Build validates the request and produces the encrypted predicate.
// Validation failures return interfaces.ErrValidation before any
// cryptographic call is made. Center and radius are encrypted
// independently, each under its own fresh IV.
func (b *Builder) Build(requesterID string, center interfaces.Coordinates, radiusM float64, category string) (interfaces.QueryPredicate, error) {
	if err := center.Validate(); err != nil {
		return interfaces.QueryPredicate{}, err
	}
	if radiusM <= 0 || math.IsNaN(radiusM) || math.IsInf(radiusM, 1) {
		return interfaces.QueryPredicate{}, fmt.Errorf("%w: radius must be a positive finite number, got %v", interfaces.ErrValidation, radiusM)
	}

	centerJSON, err := json.Marshal(center)
	if err != nil {
		return interfaces.QueryPredicate{}, fmt.Errorf("failed to encode center: %w", err)
	}

	encCenter, err := b.codec.Encrypt(centerJSON)
	if err != nil {
		return interfaces.QueryPredicate{}, fmt.Errorf("failed to encrypt center: %w", err)
	}

	encRadius, err := b.codec.Encrypt([]byte(strconv.FormatFloat(radiusM, 'f', -1, 64)))
	if err != nil {
		return interfaces.QueryPredicate{}, fmt.Errorf("failed to encrypt radius: %w", err)
	}

	now := time.Now().UTC()
	return interfaces.QueryPredicate{
		EncryptedCenter: encCenter,
		EncryptedRadius: encRadius,
		QueryID:         newQueryID(requesterID, now),
		Timestamp:       now,
		Category:        category,
	}, nil
}

// newQueryID derives a unique id from requester identity and request time.
// The uuid name-based form keeps the id stable for a given (requester,
// instant) pair, which is what lets retried requests deduplicate their
// audit entries.
func newQueryID(requesterID string, at time.Time) string {
	name := requesterID + "/" + at.Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
