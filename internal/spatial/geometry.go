package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

// ErrTooFewVertices is returned for boundaries that do not enclose an area
var ErrTooFewVertices = errors.New("boundary needs at least 3 distinct vertices")

// metersPerDegree is the length of one degree of latitude on the mean sphere
const metersPerDegree = EarthRadiusMeters * math.Pi / 180

// Point is a WGS84 coordinate
type Point = models.Point

// BoundingBox calculates the extent of a set of points
func BoundingBox(points []Point) models.Bounds {
	if len(points) == 0 {
		return models.Bounds{}
	}

	b := models.Bounds{
		MinX: points[0].Lon, MaxX: points[0].Lon,
		MinY: points[0].Lat, MaxY: points[0].Lat,
	}
	for _, p := range points[1:] {
		b.MinX = math.Min(b.MinX, p.Lon)
		b.MaxX = math.Max(b.MaxX, p.Lon)
		b.MinY = math.Min(b.MinY, p.Lat)
		b.MaxY = math.Max(b.MaxY, p.Lat)
	}
	return b
}

// BoundsArea calculates the area of a lon/lat extent in square meters.
// The width is measured along the middle latitude.
func BoundsArea(b models.Bounds) float64 {
	if b.MaxX <= b.MinX || b.MaxY <= b.MinY {
		return 0
	}
	midLat := (b.MinY + b.MaxY) / 2
	width := HaversineDistance(midLat, b.MinX, midLat, b.MaxX)
	height := HaversineDistance(b.MinY, b.MinX, b.MaxY, b.MinX)
	return width * height
}

// PolygonArea calculates the area of a small polygon with the shoelace formula
// on an equirectangular projection centered on the mean latitude.
// Returns area in square meters.
func PolygonArea(points []Point) float64 {
	points = cleanRing(points)
	if len(points) < 3 {
		return 0
	}

	var meanLat float64
	for _, p := range points {
		meanLat += p.Lat
	}
	meanLat /= float64(len(points))
	lonScale := metersPerDegree * math.Cos(meanLat*math.Pi/180)

	var sum float64
	for i := range points {
		j := (i + 1) % len(points)
		xi, yi := points[i].Lon*lonScale, points[i].Lat*metersPerDegree
		xj, yj := points[j].Lon*lonScale, points[j].Lat*metersPerDegree
		sum += xi*yj - xj*yi
	}
	return math.Abs(sum) / 2
}

// GeodesicArea calculates the area enclosed by the boundary on the sphere using
// an s2 loop. Vertex winding does not matter: the smaller of the two regions
// the ring separates is returned.
func GeodesicArea(points []Point) float64 {
	points = cleanRing(points)
	if len(points) < 3 {
		return 0
	}

	vertices := make([]s2.Point, len(points))
	for i, p := range points {
		vertices[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
	}
	steradians := s2.LoopFromPoints(vertices).Area()
	if other := 4*math.Pi - steradians; other < steradians {
		steradians = other
	}
	return steradians * EarthRadiusMeters * EarthRadiusMeters
}

// Estimate validates a field boundary and reports its area in several units.
// The planar shoelace value is the headline figure; the geodesic value is
// reported alongside it.
func Estimate(points []Point) (models.AreaEstimate, error) {
	for i, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return models.AreaEstimate{}, fmt.Errorf("vertex %d out of range: lat=%v lon=%v", i, p.Lat, p.Lon)
		}
	}
	ring := cleanRing(points)
	if len(ring) < 3 {
		return models.AreaEstimate{}, ErrTooFewVertices
	}

	sqm := PolygonArea(ring)
	return models.AreaEstimate{
		SquareMeters:         sqm,
		Hectares:             Hectares(sqm),
		Acres:                Acres(sqm),
		GeodesicSquareMeters: GeodesicArea(ring),
		Vertices:             len(ring),
	}, nil
}

// cleanRing drops consecutive duplicate vertices and an explicit closing vertex
func cleanRing(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
