package dedupe

import "math"

const earthRadiusMeters = 6371000.0

// metersPerDegreeLat is the length of one degree of latitude on the sphere
// used by HaversineMeters
const metersPerDegreeLat = earthRadiusMeters * math.Pi / 180

// HaversineMeters returns the great-circle distance between two points
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
