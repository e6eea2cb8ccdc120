package predicate

import (
	"encoding/json"
	"strconv"

	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/geoindex"
	"github.com/Avishek-7/eplq-backend/interfaces"
)

// Evaluator decides match/no-match for one predicate against one record.
// It is a trusted component (see the package comment): decrypted values
// exist only inside Evaluate's stack frame and are never returned, stored
// or logged.
type Evaluator struct {
	codec *cryptoutils.Codec
}

// NewEvaluator creates an evaluator over the given codec.
func NewEvaluator(codec *cryptoutils.Codec) *Evaluator {
	return &Evaluator{codec: codec}
}

// Evaluate reports whether the POI lies within the predicate's radius of
// its center. Distance is great-circle (haversine), boundary inclusive.
//
// Any decryption failure on either side returns (false, false): a single
// corrupt or incompatible record is a non-match, never a scan abort. The
// second return reports whether all tokens decrypted cleanly so the caller
// can track a failure count for observability.
func (e *Evaluator) Evaluate(pred interfaces.QueryPredicate, poi interfaces.POIRecord) (match bool, ok bool) {
	if pred.Category != "" && poi.Category != pred.Category {
		return false, true
	}

	center, radiusM, ok := e.decryptPredicate(pred)
	if !ok {
		return false, false
	}

	payloadJSON, err := e.codec.Decrypt(poi.EncryptedPayload)
	if err != nil {
		return false, false
	}
	var payload interfaces.POIPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return false, false
	}

	dist := geoindex.HaversineDistance(center.Lat, center.Lng, payload.Lat, payload.Lng)
	return dist <= radiusM, true
}

// DecryptRadius exposes the predicate's radius to the orchestrator for
// index pruning. Like Evaluate, it runs inside the trust boundary.
func (e *Evaluator) DecryptRadius(pred interfaces.QueryPredicate) (float64, error) {
	raw, err := e.codec.Decrypt(pred.EncryptedRadius)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(raw), 64)
}

// DecryptCenter exposes the predicate's center for index pruning.
func (e *Evaluator) DecryptCenter(pred interfaces.QueryPredicate) (interfaces.Coordinates, error) {
	raw, err := e.codec.Decrypt(pred.EncryptedCenter)
	if err != nil {
		return interfaces.Coordinates{}, err
	}
	var center interfaces.Coordinates
	if err := json.Unmarshal(raw, &center); err != nil {
		return interfaces.Coordinates{}, err
	}
	return center, nil
}

func (e *Evaluator) decryptPredicate(pred interfaces.QueryPredicate) (interfaces.Coordinates, float64, bool) {
	center, err := e.DecryptCenter(pred)
	if err != nil {
		return interfaces.Coordinates{}, 0, false
	}
	radiusM, err := e.DecryptRadius(pred)
	if err != nil || radiusM <= 0 {
		return interfaces.Coordinates{}, 0, false
	}
	return center, radiusM, true
}
