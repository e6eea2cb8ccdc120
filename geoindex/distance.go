package geoindex

import "math"

// earthRadiusM is the mean earth radius in meters.
const earthRadiusM = 6371000.0

// HaversineDistance returns the great-circle distance in meters between two
// coordinates on a spherical earth. This is the single distance definition
// used everywhere a predicate radius is compared against.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := math.Pi / 180

	dLat := (lat2 - lat1) * toRad
	dLng := (lng2 - lng1) * toRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
