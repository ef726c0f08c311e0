package positioning

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// GeoAnchor asks the platform's visual-positioning service whether the
// reference coordinate is covered and, if so, anchors the subject centroid.
type GeoAnchor struct {
	base

	token    string
	awaiting bool
	anchored bool
}

func (g *GeoAnchor) Activate(s *Session) Outcome {
	g.start(s)
	if err := g.platform.StartSensor(SensorGeoTracking); err != nil {
		return g.fail(err)
	}

	g.token = fmt.Sprintf("%s#%d", s.ID, s.Attempt)
	if err := g.anchors.RequestAvailability(g.token, s.Reference); err != nil {
		return g.fail(err)
	}
	g.awaiting = true
	return Pending(fmt.Sprintf("checking geo-anchoring coverage at %s", s.Reference))
}

// Deadline bounds the availability round-trip. Once the location is known to
// be supported, geo_anchor.resolve_timeout bounds the anchor instead.
func (g *GeoAnchor) Deadline() time.Duration { return g.cfg.GeoAnchor.AvailabilityTimeout }

func (g *GeoAnchor) Determining() bool { return g.awaiting }

func (g *GeoAnchor) Deactivate() {
	g.platform.StopSensor(SensorGeoTracking)
	if g.token != "" {
		g.anchors.RemoveAnchors(g.token)
	}
	g.awaiting = false
	g.anchored = false
	g.base.Deactivate()
}

func (g *GeoAnchor) Expire() Outcome {
	g.awaiting = false
	return g.base.Expire()
}

func (g *GeoAnchor) HandleAnchorAvailability(a model.AnchorAvailability) Outcome {
	if !g.awaiting || a.Token != g.token {
		return Outcome{}
	}
	g.awaiting = false

	if a.Err != nil {
		return g.fail(fmt.Errorf("availability check: %v: %w", a.Err, ErrSensorUnavailable))
	}
	if !a.Supported {
		return g.fail(fmt.Errorf("no coverage at %s: %w", g.session.Reference, ErrSensorUnavailable))
	}

	var altitude float64
	if fix := g.session.LastFix; fix != nil {
		altitude = fix.Altitude
	}
	if err := g.anchors.AddAnchor(g.token, g.session.Reference, altitude); err != nil {
		return g.fail(err)
	}
	g.anchored = true
	out := Pending("geo anchor placed; localizing")
	if d := g.cfg.GeoAnchor.ResolveTimeout; d > 0 {
		return out.WithDeadline(d)
	}
	return out.WithoutDeadline()
}

func (g *GeoAnchor) HandleAnchorResolved(r model.AnchorResolved) Outcome {
	if !g.anchored || !g.listening() || r.Token != g.token {
		return Outcome{}
	}
	return g.positioned(PlacementTransform{
		Rotation:    r.Pose.Yaw,
		Translation: r.Pose.Position,
		Scale:       1,
	})
}

// HandleLocation reports coarse fixes as advisory status only.
func (g *GeoAnchor) HandleLocation(fix model.LocationFix) Outcome {
	if !g.listening() {
		return Outcome{}
	}
	acc := fix.HorizontalAccuracy
	if acc >= 0 && acc <= g.cfg.GeoAnchor.MaxHorizontalAccuracy {
		return Outcome{}
	}
	out := Pending(fmt.Sprintf("GPS accuracy too coarse (±%.0f m)", acc))
	out.Err = fmt.Errorf("horizontal accuracy %.1f m: %w", acc, ErrAccuracyInsufficient)
	return out
}
