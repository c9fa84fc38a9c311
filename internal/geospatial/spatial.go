package geospatial

import (
	"math"

	"github.com/melify/peacemap/internal/model"
)

// EarthRadiusMeters is the mean Earth radius used by all distance math.
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
func Distance(a, b model.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Offset returns the point reached by moving north/east from p by the given
// meter deltas. Accurate for the small offsets used for healing spots; not
// intended for long distances.
func Offset(p model.Coordinates, northMeters, eastMeters float64) model.Coordinates {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLng := eastMeters / (EarthRadiusMeters * math.Cos(p.Lat*math.Pi/180)) * 180 / math.Pi
	return model.Coordinates{
		Lat: p.Lat + dLat,
		Lng: p.Lng + dLng,
	}
}

// BoundingBox returns a lat/lng box that fully contains the circle of
// radiusMeters around p. Stores use it as a cheap index prefilter before
// the exact haversine check.
func BoundingBox(p model.Coordinates, radiusMeters float64) (minLat, minLng, maxLat, maxLng float64) {
	dLat := radiusMeters / EarthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	// Near the poles the longitude band degenerates; widen to the full range.
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = radiusMeters / (EarthRadiusMeters * cosLat) * 180 / math.Pi
	}
	return p.Lat - dLat, p.Lng - dLng, p.Lat + dLat, p.Lng + dLng
}

// ValidCoordinates reports whether p is a well-formed WGS84 point.
func ValidCoordinates(p model.Coordinates) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
