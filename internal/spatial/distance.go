package spatial

import (
	"github.com/golang/geo/s2"
)

const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters

	SquareMetersPerHectare = 10000.0
	SquareMetersPerAcre    = 4046.8564224
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Hectares converts square meters to hectares
func Hectares(sqm float64) float64 {
	return sqm / SquareMetersPerHectare
}

// Acres converts square meters to acres
func Acres(sqm float64) float64 {
	return sqm / SquareMetersPerAcre
}
