package positioning

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/parcel-positioning/core"
)

// Config holds every positioning threshold and timeout. Field tags match the
// "positioning" section of the YAML config file.
type Config struct {
	// Skip lists strategies left out of the cascade. ManualAlignment is
	// always kept.
	Skip []string `mapstructure:"skip"`
	// SetTolerance is the per-coordinate distance below which two boundary
	// sets are the same parcel.
	SetTolerance float64 `mapstructure:"set_tolerance_m"`
	// Projector selects the geodetic model: "flat" or "ecef".
	Projector string `mapstructure:"projector"`

	GeoAnchor GeoAnchorConfig `mapstructure:"geo_anchor"`
	Plane     PlaneConfig     `mapstructure:"plane"`
	Marker    MarkerConfig    `mapstructure:"marker"`
	Compass   CompassConfig   `mapstructure:"compass"`
	Manual    ManualConfig    `mapstructure:"manual"`
}

type GeoAnchorConfig struct {
	AvailabilityTimeout time.Duration `mapstructure:"availability_timeout"`
	// ResolveTimeout bounds localizing a placed anchor. Zero waits forever.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	// MaxHorizontalAccuracy is the GPS accuracy, in metres, above which fixes
	// are reported as too coarse.
	MaxHorizontalAccuracy float64 `mapstructure:"max_horizontal_accuracy_m"`
}

type PlaneConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MinArea      float64       `mapstructure:"min_area_m2"`
	MinNormalDot float64       `mapstructure:"min_normal_dot"`
	FitFraction  float64       `mapstructure:"fit_fraction"`
}

type MarkerConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	// MinBoxSize is the smallest accepted bounding-box side in normalised
	// image units.
	MinBoxSize float64 `mapstructure:"min_box_size"`
}

type CompassConfig struct {
	// MaxAccuracy is the heading accuracy, in degrees, at or above which
	// readings are only advisory.
	MaxAccuracy float64 `mapstructure:"max_accuracy_deg"`
	// AwaitBearing keeps the strategy resting in NeedsUserInput when no
	// reference bearing exists instead of failing over to manual alignment.
	AwaitBearing     bool    `mapstructure:"await_bearing"`
	ForwardDistance  float64 `mapstructure:"forward_distance_m"`
	DropBelow        float64 `mapstructure:"drop_below_m"`
	Smoothing        float64 `mapstructure:"smoothing"`
	MinRotationDelta float64 `mapstructure:"min_rotation_delta_deg"`
}

type ManualConfig struct {
	MinSeparation float64 `mapstructure:"min_separation_m"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SetTolerance: core.DefaultSetTolerance,
		Projector:    core.ProjectorFlat,
		GeoAnchor: GeoAnchorConfig{
			AvailabilityTimeout:   5 * time.Second,
			ResolveTimeout:        30 * time.Second,
			MaxHorizontalAccuracy: 20,
		},
		Plane: PlaneConfig{
			Timeout:      10 * time.Second,
			MinArea:      0.5,
			MinNormalDot: 0.8,
			FitFraction:  0.8,
		},
		Marker: MarkerConfig{
			Timeout:       8 * time.Second,
			MinInterval:   200 * time.Millisecond,
			MinConfidence: 0.8,
			MinBoxSize:    0.05,
		},
		Compass: CompassConfig{
			MaxAccuracy:      15,
			ForwardDistance:  2,
			DropBelow:        0.5,
			Smoothing:        0.3,
			MinRotationDelta: 1,
		},
		Manual: ManualConfig{
			MinSeparation: 0.01,
		},
	}
}

// Cascade builds the transition table with Skip applied.
func (c Config) Cascade() (Cascade, error) {
	skip := make([]Kind, 0, len(c.Skip))
	for _, name := range c.Skip {
		k, err := ParseKind(name)
		if err != nil {
			return Cascade{}, err
		}
		if k == KindManualAlignment {
			return Cascade{}, errors.New("manual_alignment cannot be skipped")
		}
		skip = append(skip, k)
	}
	return NewCascade(skip...), nil
}

// Validate rejects non-positive timeouts and thresholds outside their range.
func (c Config) Validate() error {
	var errs []error
	positiveDur := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %g", name, v))
		}
	}
	within := func(name string, v, lo, hi float64) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s must be in [%g, %g], got %g", name, lo, hi, v))
		}
	}

	positive("set_tolerance_m", c.SetTolerance)
	if _, err := core.ParseProjector(c.Projector); err != nil {
		errs = append(errs, fmt.Errorf("projector: %w", err))
	}
	positiveDur("geo_anchor.availability_timeout", c.GeoAnchor.AvailabilityTimeout)
	if c.GeoAnchor.ResolveTimeout < 0 {
		errs = append(errs, fmt.Errorf("geo_anchor.resolve_timeout must not be negative, got %s", c.GeoAnchor.ResolveTimeout))
	}
	positive("geo_anchor.max_horizontal_accuracy_m", c.GeoAnchor.MaxHorizontalAccuracy)
	positiveDur("plane.timeout", c.Plane.Timeout)
	positive("plane.min_area_m2", c.Plane.MinArea)
	within("plane.min_normal_dot", c.Plane.MinNormalDot, 0, 1)
	if c.Plane.FitFraction <= 0 || c.Plane.FitFraction > 1 {
		errs = append(errs, fmt.Errorf("plane.fit_fraction must be in (0, 1], got %g", c.Plane.FitFraction))
	}
	positiveDur("marker.timeout", c.Marker.Timeout)
	positiveDur("marker.min_interval", c.Marker.MinInterval)
	within("marker.min_confidence", c.Marker.MinConfidence, 0, 1)
	within("marker.min_box_size", c.Marker.MinBoxSize, 0, 1)
	within("compass.max_accuracy_deg", c.Compass.MaxAccuracy, 0, 180)
	positive("compass.forward_distance_m", c.Compass.ForwardDistance)
	if c.Compass.DropBelow < 0 {
		errs = append(errs, fmt.Errorf("compass.drop_below_m must not be negative, got %g", c.Compass.DropBelow))
	}
	if c.Compass.Smoothing <= 0 || c.Compass.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("compass.smoothing must be in (0, 1], got %g", c.Compass.Smoothing))
	}
	within("compass.min_rotation_delta_deg", c.Compass.MinRotationDelta, 0, 45)
	positive("manual.min_separation_m", c.Manual.MinSeparation)

	if _, err := c.Cascade(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
