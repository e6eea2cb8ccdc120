package geoindex

import (
	"math"
	"sort"
)

// Neighbors returns the keys of the 8 cells adjacent to the given cell, at
// the same precision. Cells beyond the poles are dropped; longitude wraps
// at the antimeridian.
func Neighbors(key string) []string {
	lat, lng, latErr, lngErr, err := Decode(key)
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, dLat := range []float64{-2 * latErr, 0, 2 * latErr} {
		for _, dLng := range []float64{-2 * lngErr, 0, 2 * lngErr} {
			if dLat == 0 && dLng == 0 {
				continue
			}
			nLat := lat + dLat
			if nLat > 90 || nLat < -90 {
				continue
			}
			nLng := lng + dLng
			if nLng > 180 {
				nLng -= 360
			} else if nLng < -180 {
				nLng += 360
			}
			out = append(out, Encode(nLat, nLng, len(key)))
		}
	}
	return dedupe(out)
}

// CoverRadius returns a small set of key prefixes that together cover the
// circle of the given radius around the center. A record whose spatial
// index key starts with one of the returned prefixes is a candidate; all
// others are provably outside the circle and safe to prune.
//
// The cover is the center's cell plus its 8 neighbors, at the finest
// precision whose cell dimensions still exceed the radius. An empty result
// means the radius is too large to prune usefully and the caller should
// scan everything.
func CoverRadius(lat, lng, radiusM float64, maxPrecision int) []string {
	if maxPrecision <= 0 {
		maxPrecision = DefaultPrecision
	}
	precision := coverPrecision(lat, radiusM, maxPrecision)
	if precision == 0 {
		return nil
	}

	center := Encode(lat, lng, precision)
	cover := append([]string{center}, Neighbors(center)...)
	return dedupe(cover)
}

// coverPrecision picks the finest precision whose cells are at least as
// tall and wide as the radius at this latitude. Returns 0 when even the
// coarsest cell is smaller than the radius.
func coverPrecision(lat, radiusM float64, maxPrecision int) int {
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}

	for p := maxPrecision; p >= 1; p-- {
		h, w := CellSize(p)
		if h >= radiusM && w*cosLat >= radiusM {
			return p
		}
	}
	return 0
}

func dedupe(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || keys[i-1] != k {
			out = append(out, k)
		}
	}
	return out
}
