package positioning

import (
	"fmt"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// SensorKind names a platform capability a strategy can switch on.
type SensorKind int

const (
	SensorGeoTracking SensorKind = iota
	SensorPlaneDetection
	SensorFrameAnalysis
	SensorHeading
)

func (s SensorKind) String() string {
	switch s {
	case SensorGeoTracking:
		return "geo_tracking"
	case SensorPlaneDetection:
		return "plane_detection"
	case SensorFrameAnalysis:
		return "frame_analysis"
	case SensorHeading:
		return "heading"
	default:
		return "unknown"
	}
}

// ParseSensorKind accepts the names String returns.
func ParseSensorKind(s string) (SensorKind, error) {
	for k := SensorGeoTracking; k <= SensorHeading; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor %q", s)
}

// Platform starts and stops device sensor subscriptions. StartSensor returns
// an error wrapping ErrSensorUnavailable when the device lacks the capability.
type Platform interface {
	StartSensor(kind SensorKind) error
	StopSensor(kind SensorKind)
}

// AnchorService is the platform's geo-anchoring API. Answers arrive later as
// model.AnchorAvailability and model.AnchorResolved events carrying the token
// passed here.
type AnchorService interface {
	RequestAvailability(token string, at model.Coordinate) error
	AddAnchor(token string, at model.Coordinate, altitude float64) error
	RemoveAnchors(token string)
}

// unavailablePlatform backs orchestrators built without a platform: every
// sensor is missing, so the cascade falls through to manual alignment.
type unavailablePlatform struct{}

func (unavailablePlatform) StartSensor(kind SensorKind) error {
	return fmt.Errorf("%s: %w", kind, ErrSensorUnavailable)
}

func (unavailablePlatform) StopSensor(SensorKind) {}

func (unavailablePlatform) RequestAvailability(string, model.Coordinate) error {
	return fmt.Errorf("geo anchoring: %w", ErrSensorUnavailable)
}

func (unavailablePlatform) AddAnchor(string, model.Coordinate, float64) error {
	return fmt.Errorf("geo anchoring: %w", ErrSensorUnavailable)
}

func (unavailablePlatform) RemoveAnchors(string) {}
