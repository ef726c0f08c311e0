package core

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// minCentroidAreaM2 is the ring area below which the area centroid becomes
// numerically unstable and the perimeter centroid is used instead.
const minCentroidAreaM2 = 1e-4

// Centroid returns the area centroid of the implicitly closed ring. Rings
// with (near) zero area fall back to the centroid of their edges, and a ring
// whose vertices all coincide returns that vertex.
//
// The computation runs directly in degrees: the tangent-plane projection is
// affine, so the centroid commutes with it.
func Centroid(ring model.BoundaryRing) model.Coordinate {
	switch len(ring) {
	case 0:
		return model.Coordinate{}
	case 1:
		return ring[0]
	}

	origin := ring[0]
	flat := make([]float64, 0, 2*(len(ring)+1))
	for _, c := range ring {
		flat = append(flat, origin.Longitude+wrapLongitude(c.Longitude-origin.Longitude), c.Latitude)
	}
	flat = append(flat, flat[0], flat[1])

	var centre geom.Coord
	poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	if ringAreaM2(poly, origin) >= minCentroidAreaM2 {
		centre = xy.PolygonsCentroid(poly)
	} else {
		centre = xy.LinesCentroid(geom.NewLineStringFlat(geom.XY, flat))
	}

	if len(centre) < 2 || math.IsNaN(centre[0]) || math.IsNaN(centre[1]) {
		return vertexMean(ring)
	}
	return model.Coordinate{Latitude: centre[1], Longitude: wrapLongitude(centre[0])}
}

func ringAreaM2(poly *geom.Polygon, origin model.Coordinate) float64 {
	return math.Abs(poly.Area()) * MetersPerDegreeLatitude * metersPerDegreeLongitude(origin.Latitude)
}

func vertexMean(ring model.BoundaryRing) model.Coordinate {
	var lat, lon float64
	origin := ring[0]
	for _, c := range ring {
		lat += c.Latitude
		lon += wrapLongitude(c.Longitude - origin.Longitude)
	}
	n := float64(len(ring))
	return model.Coordinate{Latitude: lat / n, Longitude: wrapLongitude(origin.Longitude + lon/n)}
}

// ReferenceCoordinate returns the centroid of the subject ring (ring 0). It
// is the origin every strategy and the geometry builder project around.
func ReferenceCoordinate(set model.BoundarySet) (model.Coordinate, bool) {
	subject := set.Subject()
	if len(subject) == 0 {
		return model.Coordinate{}, false
	}
	return Centroid(subject), true
}
