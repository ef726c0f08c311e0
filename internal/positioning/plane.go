package positioning

import (
	"math"
	"time"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// PlaneDetection places the parcel, scaled down, on the first horizontal
// surface that is large and level enough.
type PlaneDetection struct {
	base

	target string
}

func (p *PlaneDetection) Activate(s *Session) Outcome {
	p.start(s)
	if err := p.platform.StartSensor(SensorPlaneDetection); err != nil {
		return p.fail(err)
	}
	return Pending("looking for a flat surface")
}

func (p *PlaneDetection) Deadline() time.Duration { return p.cfg.Plane.Timeout }

func (p *PlaneDetection) Deactivate() {
	p.platform.StopSensor(SensorPlaneDetection)
	p.target = ""
	p.base.Deactivate()
}

func (p *PlaneDetection) HandleSurface(ev model.SurfaceEvent) Outcome {
	if !p.listening() || ev.Change == model.SurfaceRemoved || !p.suitable(ev) {
		return Outcome{}
	}
	p.target = ev.ID
	return p.positioned(PlacementTransform{
		Rotation:    ev.Pose.Yaw,
		Translation: ev.Pose.Position,
		Scale:       p.fitScale(ev),
	})
}

func (p *PlaneDetection) suitable(ev model.SurfaceEvent) bool {
	if ev.Area < p.cfg.Plane.MinArea {
		return false
	}
	n := ev.Normal.Normalized()
	return n.Dot(model.Up) > p.cfg.Plane.MinNormalDot
}

// fitScale shrinks the subject ring to FitFraction of the surface extent.
// Surfaces without a reported extent are treated as squares of equal area.
func (p *PlaneDetection) fitScale(ev model.SurfaceEvent) float64 {
	w, l := ev.Extent.Width, ev.Extent.Length
	if w <= 0 || l <= 0 {
		side := math.Sqrt(ev.Area)
		w, l = side, side
	}

	rw, rl := p.session.SubjectExtent()
	scale := math.Inf(1)
	if rw > 0 {
		scale = math.Min(scale, w/rw)
	}
	if rl > 0 {
		scale = math.Min(scale, l/rl)
	}
	if math.IsInf(scale, 1) {
		return 1
	}
	return p.cfg.Plane.FitFraction * scale
}
