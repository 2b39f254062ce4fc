// Package geo holds the spherical geometry and signal filtering used by the
// motion estimator. Inputs and outputs are in degrees; radians internally.
package geo

import "math"

// EarthRadiusM is the WGS-84 equatorial radius. The whole codebase uses this
// value for surface distance, not the mean Earth radius.
const EarthRadiusM = 6378137.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine returns the great-circle distance in meters between two points
// given as latitude/longitude in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// Distance3D combines a surface distance with an altitude delta, both in meters.
func Distance3D(surface, altDelta float64) float64 {
	return math.Hypot(surface, altDelta)
}

// Bearing returns the initial bearing (forward azimuth) in degrees from the
// first point to the second, normalized to [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLambda := toRadians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := toDegrees(math.Atan2(y, x))
	return normalizeDegrees(deg)
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Lowpass applies one step of exponential smoothing: alpha*raw + (1-alpha)*prev.
// Written in delta form so filtering a value against itself returns it exactly.
func Lowpass(raw, prev, alpha float64) float64 {
	return prev + alpha*(raw-prev)
}

// LowpassBearing smooths a bearing along the shortest arc, so 359 blended with
// 1 lands near 0 instead of swinging through 180. Equivalent to Lowpass when
// the two values are within 180 degrees of each other.
func LowpassBearing(raw, prev, alpha float64) float64 {
	diff := math.Mod(raw-prev, 360)
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	return normalizeDegrees(prev + alpha*diff)
}
