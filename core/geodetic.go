package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// MetersPerDegreeLatitude is the tangent-plane scale used for north offsets.
const MetersPerDegreeLatitude = 111320.0

// Projector converts between geodetic coordinates and local ENU offsets
// around an origin.
type Projector interface {
	ToENU(origin, target model.Coordinate) model.ENUOffset
	FromENU(origin model.Coordinate, offset model.ENUOffset) model.Coordinate
}

// FlatEarth is the local tangent-plane approximation. It is accurate to a
// few centimetres within a few hundred metres of the origin, which covers
// any property parcel.
type FlatEarth struct{}

// DefaultProjector is what a GeometryBuilder without a projector falls back
// to. ToENU, FromENU and Distance always use the flat-earth model.
var DefaultProjector Projector = FlatEarth{}

// Projector names accepted by ParseProjector.
const (
	ProjectorFlat = "flat"
	ProjectorECEF = "ecef"
)

// ParseProjector returns the projector for name. An empty name selects the
// default.
func ParseProjector(name string) (Projector, error) {
	switch name {
	case "", ProjectorFlat:
		return FlatEarth{}, nil
	case ProjectorECEF:
		return ECEFProjector{}, nil
	default:
		return nil, fmt.Errorf("unknown projector %q (want %s or %s)", name, ProjectorFlat, ProjectorECEF)
	}
}

// ToENU projects target into metres east/north of origin.
func ToENU(origin, target model.Coordinate) model.ENUOffset {
	return FlatEarth{}.ToENU(origin, target)
}

// FromENU is the approximate inverse of ToENU.
func FromENU(origin model.Coordinate, offset model.ENUOffset) model.Coordinate {
	return FlatEarth{}.FromENU(origin, offset)
}

// ToENUWithAltitude projects target like ToENU and fills Up from the
// altitude difference.
func ToENUWithAltitude(origin model.Coordinate, originAlt float64, target model.Coordinate, targetAlt float64) model.ENUOffset {
	off := ToENU(origin, target)
	off.Up = float32(targetAlt - originAlt)
	return off
}

// ToENU implements Projector.
func (FlatEarth) ToENU(origin, target model.Coordinate) model.ENUOffset {
	east, north := flatOffset(origin, target)
	return model.ENUOffset{East: float32(east), North: float32(north)}
}

// FromENU implements Projector.
func (FlatEarth) FromENU(origin model.Coordinate, offset model.ENUOffset) model.Coordinate {
	lat := origin.Latitude + float64(offset.North)/MetersPerDegreeLatitude
	lon := origin.Longitude
	if mpd := metersPerDegreeLongitude(origin.Latitude); mpd > 1e-9 {
		lon += float64(offset.East) / mpd
	}
	return model.Coordinate{Latitude: lat, Longitude: wrapLongitude(lon)}
}

// Distance returns the tangent-plane distance in metres between a and b.
// Computed in double precision; it is the comparison used for all tolerance
// checks.
func Distance(a, b model.Coordinate) float64 {
	east, north := flatOffset(a, b)
	return math.Hypot(east, north)
}

func flatOffset(origin, target model.Coordinate) (east, north float64) {
	dLon := wrapLongitude(target.Longitude - origin.Longitude)
	east = dLon * metersPerDegreeLongitude(origin.Latitude)
	north = (target.Latitude - origin.Latitude) * MetersPerDegreeLatitude
	return east, north
}

func metersPerDegreeLongitude(latDeg float64) float64 {
	return MetersPerDegreeLatitude * math.Cos(degreesToRadians(latDeg))
}

// wrapLongitude folds a longitude or longitude delta into [-180, 180].
func wrapLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
