package positioning

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// CompassBearing orients the parcel from the magnetic heading and a
// user-supplied reference bearing, and places it a fixed distance in front of
// and below the viewer. It keeps re-orienting while active.
type CompassBearing struct {
	base

	heading     float64
	haveHeading bool
	rotation    float64
	awaiting    bool
}

func (c *CompassBearing) Activate(s *Session) Outcome {
	c.start(s)
	if err := c.platform.StartSensor(SensorHeading); err != nil {
		return c.fail(err)
	}
	if !s.HasBearing {
		if !c.cfg.Compass.AwaitBearing {
			return c.fail(fmt.Errorf("no reference bearing: %w", ErrUserInputRequired))
		}
		c.awaiting = true
		return NeedsUserInput("enter the bearing you are facing (0-360°, 0 = north)")
	}
	return Pending("waiting for a compass reading")
}

func (c *CompassBearing) Deactivate() {
	c.platform.StopSensor(SensorHeading)
	c.haveHeading = false
	c.awaiting = false
	c.base.Deactivate()
}

func (c *CompassBearing) HandleHeading(h model.HeadingUpdate) Outcome {
	if c.state != StateListening && c.state != StatePositioned {
		return Outcome{}
	}
	if h.Accuracy < 0 || h.Accuracy >= c.cfg.Compass.MaxAccuracy {
		out := Pending(fmt.Sprintf("compass accuracy too coarse (±%.0f°); move away from metal", h.Accuracy))
		out.Err = fmt.Errorf("heading accuracy %.1f°: %w", h.Accuracy, ErrAccuracyInsufficient)
		return out
	}

	heading := normalizeDegrees(h.MagneticHeading)
	if c.haveHeading {
		// Circular exponential smoothing: step along the shorter arc.
		heading = normalizeDegrees(c.heading + c.cfg.Compass.Smoothing*signedDegrees(heading-c.heading))
	}
	c.heading, c.haveHeading = heading, true

	if !c.session.HasBearing {
		return Outcome{}
	}
	return c.orient(false)
}

func (c *CompassBearing) HandleReferenceBearing(float64) Outcome {
	if c.state != StateListening && c.state != StatePositioned {
		return Outcome{}
	}
	wasAwaiting := c.awaiting
	c.awaiting = false
	if !c.haveHeading {
		if wasAwaiting {
			return Pending("waiting for a compass reading")
		}
		return Outcome{}
	}
	return c.orient(true)
}

func (c *CompassBearing) HandleViewerPose(model.Pose) Outcome {
	if c.state != StatePositioned {
		return Outcome{}
	}
	return c.orient(true)
}

// orient recomputes the placement. Unless forced, changes smaller than
// MinRotationDelta are suppressed to avoid jitter.
func (c *CompassBearing) orient(force bool) Outcome {
	rotation := radians(signedDegrees(c.session.ReferenceBearing - c.heading))
	if c.state == StatePositioned && !force &&
		math.Abs(normalizeRadians(rotation-c.rotation)) < radians(c.cfg.Compass.MinRotationDelta) {
		return Outcome{}
	}
	c.rotation = rotation

	viewer := c.session.Viewer
	forward := rotateY(model.Vec3{Z: -1}, viewer.Yaw)
	translation := viewer.Position.
		Add(forward.Scale(c.cfg.Compass.ForwardDistance)).
		Add(model.Vec3{Y: -c.cfg.Compass.DropBelow})

	return c.positioned(PlacementTransform{
		Rotation:    rotation,
		Translation: translation,
		Scale:       1,
	})
}
