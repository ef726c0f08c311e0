package core

import (
	"math"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// WGS84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// ECEFProjector projects through Earth-centred Earth-fixed coordinates on the
// WGS84 ellipsoid. It honours the same contract as FlatEarth and stays
// accurate at larger distances, at the cost of trigonometry per point.
type ECEFProjector struct{}

// GeodeticToECEF converts a coordinate and ellipsoidal height (metres) into
// ECEF metres.
func GeodeticToECEF(c model.Coordinate, height float64) model.Vec3 {
	lat := degreesToRadians(c.Latitude)
	lon := degreesToRadians(c.Longitude)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return model.Vec3{
		X: (n + height) * cosLat * math.Cos(lon),
		Y: (n + height) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + height) * sinLat,
	}
}

// ECEFToGeodetic inverts GeodeticToECEF with a fixed number of latitude
// iterations, which converges well below a millimetre near the surface.
func ECEFToGeodetic(p model.Vec3) (model.Coordinate, float64) {
	lon := math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y)
	lat := math.Atan2(p.Z, r*(1-wgs84E2))
	var height float64
	for i := 0; i < 6; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		if cosLat := math.Cos(lat); math.Abs(cosLat) > 1e-12 {
			height = r/cosLat - n
		} else {
			height = math.Abs(p.Z) - n*(1-wgs84E2)
		}
		lat = math.Atan2(p.Z, r*(1-wgs84E2*n/(n+height)))
	}
	return model.Coordinate{
		Latitude:  radiansToDegrees(lat),
		Longitude: radiansToDegrees(lon),
	}, height
}

// ToENU implements Projector.
func (ECEFProjector) ToENU(origin, target model.Coordinate) model.ENUOffset {
	d := GeodeticToECEF(target, 0).Sub(GeodeticToECEF(origin, 0))
	lat := degreesToRadians(origin.Latitude)
	lon := degreesToRadians(origin.Longitude)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	east := -sinLon*d.X + cosLon*d.Y
	north := -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z
	up := cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z
	return model.ENUOffset{East: float32(east), North: float32(north), Up: float32(up)}
}

// FromENU implements Projector. The Up component is honoured, so the result
// lies on the ellipsoid only when Up matches the curvature drop.
func (ECEFProjector) FromENU(origin model.Coordinate, offset model.ENUOffset) model.Coordinate {
	lat := degreesToRadians(origin.Latitude)
	lon := degreesToRadians(origin.Longitude)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)
	e, n, u := float64(offset.East), float64(offset.North), float64(offset.Up)

	d := model.Vec3{
		X: -sinLon*e - sinLat*cosLon*n + cosLat*cosLon*u,
		Y: cosLon*e - sinLat*sinLon*n + cosLat*sinLon*u,
		Z: cosLat*n + sinLat*u,
	}
	c, _ := ECEFToGeodetic(GeodeticToECEF(origin, 0).Add(d))
	return c
}
