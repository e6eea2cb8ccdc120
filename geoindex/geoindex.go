// Package geoindex implements the deterministic, locality-preserving
// spatial index key used to prune POI candidates before decryption.
//
// Keys are geohashes: the latitude and longitude windows are alternately
// bisected (longitude first), emitting one bit per bisection, and every 5
// bits map to one base-32 character. Nearby points share a longer common
// key prefix than distant points, which is the property candidate pruning
// relies on.
//
// The key is intentionally stored in plaintext next to the encrypted POI
// payload. Precision is the privacy/performance dial: more characters give
// finer pruning and coarser location leakage.
package geoindex

import (
	"fmt"
	"math"
	"strings"
)

// base32 is the geohash alphabet; 'a', 'i', 'l' and 'o' are excluded.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision yields 8-character keys (40 bits, cells ≈ 38m × 19m).
const DefaultPrecision = 8

var base32Index = func() map[byte]int {
	m := make(map[byte]int, len(base32))
	for i := 0; i < len(base32); i++ {
		m[base32[i]] = i
	}
	return m
}()

// Encode maps a coordinate to its spatial index key at the given precision
// (number of base-32 characters). The function is pure: identical input
// always yields the identical key.
func Encode(lat, lng float64, precision int) string {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	var ch, bit int
	even := true // longitude first

	for sb.Len() < precision {
		if even {
			mid := (minLng + maxLng) / 2
			if lng >= mid {
				ch |= 1 << (4 - bit)
				minLng = mid
			} else {
				maxLng = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		even = !even

		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit = 0
			ch = 0
		}
	}

	return sb.String()
}

// EncodeBits runs the same bisection for an exact number of bits and
// returns the base-32 key covering them; a trailing partial chunk is
// zero-padded as if the remaining bisections all chose the lower half.
func EncodeBits(lat, lng float64, bits int) string {
	precision := (bits + 4) / 5
	full := Encode(lat, lng, precision)

	if rem := bits % 5; rem != 0 {
		// Mask the padded low bits of the final character.
		last := base32Index[full[precision-1]]
		last &= ^((1 << (5 - rem)) - 1)
		full = full[:precision-1] + string(base32[last])
	}
	return full
}

// Decode returns the center of the cell a key addresses, plus the half
// width of the cell in each dimension. Used by tests and by the radius
// cover computation.
func Decode(key string) (lat, lng, latErr, lngErr float64, err error) {
	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0

	even := true
	for i := 0; i < len(key); i++ {
		idx, ok := base32Index[key[i]]
		if !ok {
			return 0, 0, 0, 0, fmt.Errorf("invalid index key character %q", key[i])
		}
		for bit := 4; bit >= 0; bit-- {
			upper := idx&(1<<bit) != 0
			if even {
				mid := (minLng + maxLng) / 2
				if upper {
					minLng = mid
				} else {
					maxLng = mid
				}
			} else {
				mid := (minLat + maxLat) / 2
				if upper {
					minLat = mid
				} else {
					maxLat = mid
				}
			}
			even = !even
		}
	}

	return (minLat + maxLat) / 2, (minLng + maxLng) / 2,
		(maxLat - minLat) / 2, (maxLng - minLng) / 2, nil
}

// CellSize returns the approximate height and width in meters of a cell at
// the given precision, measured at the equator.
func CellSize(precision int) (heightM, widthM float64) {
	latBits := (5 * precision) / 2
	lngBits := 5*precision - latBits

	heightM = 180.0 / math.Exp2(float64(latBits)) * metersPerDegreeLat
	widthM = 360.0 / math.Exp2(float64(lngBits)) * metersPerDegreeLat
	return heightM, widthM
}

const metersPerDegreeLat = 111320.0
