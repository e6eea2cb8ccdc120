package predicate

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avishek-7/eplq-backend/cryptoutils"
	"github.com/Avishek-7/eplq-backend/geoindex"
	"github.com/Avishek-7/eplq-backend/interfaces"
	"github.com/Avishek-7/eplq-backend/kms"
)

func newTestCodec(t *testing.T) *cryptoutils.Codec {
	t.Helper()
	keys, err := kms.NewSimpleKeyService(cryptoutils.KeyFromPassphrase("predicate-test", nil))
	require.NoError(t, err)
	return cryptoutils.NewCodec(keys)
}

func sealPOI(t *testing.T, codec *cryptoutils.Codec, name, category string, lat, lng float64) interfaces.POIRecord {
	t.Helper()
	payloadJSON, err := json.Marshal(interfaces.POIPayload{Lat: lat, Lng: lng})
	require.NoError(t, err)
	sealed, err := codec.Encrypt(payloadJSON)
	require.NoError(t, err)
	return interfaces.POIRecord{
		ID:               name,
		Name:             name,
		EncryptedPayload: sealed,
		SpatialIndexKey:  geoindex.Encode(lat, lng, geoindex.DefaultPrecision),
		Category:         category,
		UploadedAt:       time.Now().UTC(),
	}
}

// TestBuildProducesOpaquePredicate checks the predicate carries no plaintext
// coordinates and both fields decrypt back to the inputs.
func TestBuildProducesOpaquePredicate(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)

	center := interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}
	pred, err := builder.Build("alice", center, 1000, "restaurant")
	require.NoError(t, err)
	require.NoError(t, pred.Validate())
	require.NotEmpty(t, pred.QueryID)
	require.False(t, pred.Timestamp.IsZero())
	require.Equal(t, "restaurant", pred.Category)

	// The wire form never contains the plaintext numbers.
	wire, err := json.Marshal(pred)
	require.NoError(t, err)
	require.NotContains(t, string(wire), "40.7128")
	require.NotContains(t, string(wire), "74.006")

	evaluator := NewEvaluator(codec)
	gotCenter, err := evaluator.DecryptCenter(pred)
	require.NoError(t, err)
	require.Equal(t, center, gotCenter)

	gotRadius, err := evaluator.DecryptRadius(pred)
	require.NoError(t, err)
	require.Equal(t, 1000.0, gotRadius)
}

// TestBuildIndependentEncryption checks center and radius are sealed under
// separate IVs: two predicates for identical input share no tokens.
func TestBuildIndependentEncryption(t *testing.T) {
	builder := NewBuilder(newTestCodec(t))
	center := interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}

	p1, err := builder.Build("alice", center, 500, "")
	require.NoError(t, err)
	p2, err := builder.Build("alice", center, 500, "")
	require.NoError(t, err)

	require.NotEqual(t, p1.EncryptedCenter, p2.EncryptedCenter)
	require.NotEqual(t, p1.EncryptedRadius, p2.EncryptedRadius)
	require.NotEqual(t, p1.EncryptedCenter, p1.EncryptedRadius)
}

// TestBuildValidationBeforeCrypto checks invalid input is rejected with
// ErrValidation and nothing gets encrypted.
func TestBuildValidationBeforeCrypto(t *testing.T) {
	builder := NewBuilder(newTestCodec(t))

	testCases := []struct {
		name    string
		center  interfaces.Coordinates
		radiusM float64
	}{
		{name: "Latitude above range", center: interfaces.Coordinates{Lat: 91, Lng: 0}, radiusM: 100},
		{name: "Latitude below range", center: interfaces.Coordinates{Lat: -90.001, Lng: 0}, radiusM: 100},
		{name: "Longitude above range", center: interfaces.Coordinates{Lat: 0, Lng: 180.5}, radiusM: 100},
		{name: "Longitude below range", center: interfaces.Coordinates{Lat: 0, Lng: -181}, radiusM: 100},
		{name: "Zero radius", center: interfaces.Coordinates{Lat: 40, Lng: -74}, radiusM: 0},
		{name: "Negative radius", center: interfaces.Coordinates{Lat: 40, Lng: -74}, radiusM: -250},
		{name: "NaN latitude", center: interfaces.Coordinates{Lat: math.NaN(), Lng: 0}, radiusM: 100},
		{name: "NaN longitude", center: interfaces.Coordinates{Lat: 0, Lng: math.NaN()}, radiusM: 100},
		{name: "NaN radius", center: interfaces.Coordinates{Lat: 40, Lng: -74}, radiusM: math.NaN()},
		{name: "Infinite radius", center: interfaces.Coordinates{Lat: 40, Lng: -74}, radiusM: math.Inf(1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := builder.Build("alice", tc.center, tc.radiusM, "")
			require.ErrorIs(t, err, interfaces.ErrValidation)
			require.Empty(t, pred.EncryptedCenter)
			require.Empty(t, pred.EncryptedRadius)
		})
	}
}

// TestQueryIDStableForRetry checks the id derivation is deterministic for a
// given requester and instant, which is what audit dedupe relies on.
func TestQueryIDStableForRetry(t *testing.T) {
	at := time.Date(2026, 8, 29, 12, 0, 0, 123456789, time.UTC)
	require.Equal(t, newQueryID("alice", at), newQueryID("alice", at))
	require.NotEqual(t, newQueryID("alice", at), newQueryID("bob", at))
	require.NotEqual(t, newQueryID("alice", at), newQueryID("alice", at.Add(time.Nanosecond)))
}

// TestEvaluateInsideRadius checks a POI ~50m from the center matches a 1km
// query.
func TestEvaluateInsideRadius(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)
	evaluator := NewEvaluator(codec)

	pred, err := builder.Build("alice", interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}, 1000, "")
	require.NoError(t, err)

	poi := sealPOI(t, codec, "nearby cafe", "restaurant", 40.7130, -74.0065)
	match, ok := evaluator.Evaluate(pred, poi)
	require.True(t, ok)
	require.True(t, match)
}

// TestEvaluateOutsideRadius checks a POI ~32km away does not match.
func TestEvaluateOutsideRadius(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)
	evaluator := NewEvaluator(codec)

	pred, err := builder.Build("alice", interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}, 1000, "")
	require.NoError(t, err)

	poi := sealPOI(t, codec, "upstate diner", "restaurant", 41.0, -74.0)
	match, ok := evaluator.Evaluate(pred, poi)
	require.True(t, ok)
	require.False(t, match)
}

// TestEvaluateBoundaryInclusive checks a POI at exactly the radius distance
// matches.
func TestEvaluateBoundaryInclusive(t *testing.T) {
	codec := newTestCodec(t)
	evaluator := NewEvaluator(codec)
	builder := NewBuilder(codec)

	center := interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}
	poiLat, poiLng := 40.7130, -74.0065
	exact := geoindex.HaversineDistance(center.Lat, center.Lng, poiLat, poiLng)

	pred, err := builder.Build("alice", center, exact, "")
	require.NoError(t, err)

	poi := sealPOI(t, codec, "boundary poi", "other", poiLat, poiLng)
	match, ok := evaluator.Evaluate(pred, poi)
	require.True(t, ok)
	require.True(t, match)

	// A hair inside the boundary also matches.
	justUnder, err := builder.Build("alice", center, exact+0.01, "")
	require.NoError(t, err)
	match, ok = evaluator.Evaluate(justUnder, poi)
	require.True(t, ok)
	require.True(t, match)
}

// TestEvaluateCategoryFilter checks the plaintext category gate runs before
// any decryption.
func TestEvaluateCategoryFilter(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)
	evaluator := NewEvaluator(codec)

	pred, err := builder.Build("alice", interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}, 1000, "hospital")
	require.NoError(t, err)

	// In range but wrong category.
	cafe := sealPOI(t, codec, "cafe", "restaurant", 40.7130, -74.0065)
	match, ok := evaluator.Evaluate(pred, cafe)
	require.True(t, ok)
	require.False(t, match)

	// In range and right category.
	hospital := sealPOI(t, codec, "hospital", "hospital", 40.7130, -74.0065)
	match, ok = evaluator.Evaluate(pred, hospital)
	require.True(t, ok)
	require.True(t, match)
}

// TestEvaluateDecryptFailureIsNonMatch checks corrupt or foreign-key data
// comes back as (false, false), never an error or panic.
func TestEvaluateDecryptFailureIsNonMatch(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)
	evaluator := NewEvaluator(codec)

	pred, err := builder.Build("alice", interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}, 1000, "")
	require.NoError(t, err)

	corrupt := sealPOI(t, codec, "corrupt", "other", 40.7130, -74.0065)
	corrupt.EncryptedPayload = "000000000000000000000000:deadbeef"
	match, ok := evaluator.Evaluate(pred, corrupt)
	require.False(t, ok)
	require.False(t, match)

	// A predicate sealed under a different key fails the same way.
	otherKeys, err := kms.NewSimpleKeyService(cryptoutils.KeyFromPassphrase("other key", nil))
	require.NoError(t, err)
	foreignPred, err := NewBuilder(cryptoutils.NewCodec(otherKeys)).
		Build("alice", interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060}, 1000, "")
	require.NoError(t, err)

	good := sealPOI(t, codec, "good", "other", 40.7130, -74.0065)
	match, ok = evaluator.Evaluate(foreignPred, good)
	require.False(t, ok)
	require.False(t, match)
}

// TestEvaluateRejectsNonPositiveDecryptedRadius guards against a predicate
// assembled by hand around the builder's validation.
func TestEvaluateRejectsNonPositiveDecryptedRadius(t *testing.T) {
	codec := newTestCodec(t)
	evaluator := NewEvaluator(codec)

	centerJSON, err := json.Marshal(interfaces.Coordinates{Lat: 40.7128, Lng: -74.0060})
	require.NoError(t, err)
	encCenter, err := codec.Encrypt(centerJSON)
	require.NoError(t, err)
	encRadius, err := codec.Encrypt([]byte("-5"))
	require.NoError(t, err)

	pred := interfaces.QueryPredicate{
		EncryptedCenter: encCenter,
		EncryptedRadius: encRadius,
		QueryID:         "hand-built",
		Timestamp:       time.Now().UTC(),
	}

	poi := sealPOI(t, codec, "poi", "other", 40.7128, -74.0060)
	match, ok := evaluator.Evaluate(pred, poi)
	require.False(t, ok)
	require.False(t, match)
}

// TestEvaluateMatchesHaversineRandomPoints cross-checks Evaluate against a
// direct haversine comparison over random centers, radii and points. Half
// the points are nudged near the circle's edge so both verdicts show up.
func TestEvaluateMatchesHaversineRandomPoints(t *testing.T) {
	codec := newTestCodec(t)
	builder := NewBuilder(codec)
	evaluator := NewEvaluator(codec)
	rng := rand.New(rand.NewSource(29))

	for i := 0; i < 300; i++ {
		center := interfaces.Coordinates{
			Lat: rng.Float64()*140 - 70,
			Lng: rng.Float64()*340 - 170,
		}
		radiusM := 1 + rng.Float64()*500_000

		var lat, lng float64
		if i%2 == 0 {
			// Offset of up to roughly twice the radius in each axis.
			span := 2 * radiusM / 111_320
			lat = center.Lat + (rng.Float64()*2-1)*span
			lng = center.Lng + (rng.Float64()*2-1)*span
			if lat > 90 {
				lat = 90
			}
			if lat < -90 {
				lat = -90
			}
			if lng > 180 {
				lng -= 360
			}
			if lng < -180 {
				lng += 360
			}
		} else {
			lat = rng.Float64()*140 - 70
			lng = rng.Float64()*340 - 170
		}

		pred, err := builder.Build("alice", center, radiusM, "")
		require.NoError(t, err)

		want := geoindex.HaversineDistance(center.Lat, center.Lng, lat, lng) <= radiusM
		got, clean := evaluator.Evaluate(pred, sealPOI(t, codec, "poi", "other", lat, lng))
		require.True(t, clean, "iteration %d decrypted uncleanly", i)
		require.Equalf(t, want, got, "iteration %d: center=%+v radius=%v point=(%v,%v)", i, center, radiusM, lat, lng)
	}
}
