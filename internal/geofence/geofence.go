// Package geofence decides whether an actor's reported position lies
// within a task's circular geofence. Pure and deterministic; callers
// own the fail-closed policy for missing coordinates.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine
// formula.
const EarthRadiusMeters = 6371000.0

const (
	MinRadiusMeters = 10.0
	MaxRadiusMeters = 10000.0
)

// DistanceMeters returns the great-circle distance between two
// coordinates via the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// IsWithinRadius reports whether the actor is inside the fence. A
// distance exactly equal to the radius passes.
func IsWithinRadius(actorLat, actorLng, centerLat, centerLng, radiusMeters float64) bool {
	return DistanceMeters(actorLat, actorLng, centerLat, centerLng) <= radiusMeters
}

// ValidCoordinate reports whether lat/lng are in range.
func ValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidRadius reports whether a fence radius is within the accepted
// [10, 10000] meter range.
func ValidRadius(radiusMeters float64) bool {
	return radiusMeters >= MinRadiusMeters && radiusMeters <= MaxRadiusMeters
}
