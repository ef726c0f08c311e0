package positioning

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// VisualMarker positions the parcel relative to a detected marker whose
// real-world coordinate the user has supplied.
type VisualMarker struct {
	base

	limiter  *rate.Limiter
	last     *model.MarkerDetection
	prompted string
}

func (v *VisualMarker) Activate(s *Session) Outcome {
	v.start(s)
	if err := v.platform.StartSensor(SensorFrameAnalysis); err != nil {
		return v.fail(err)
	}
	v.limiter = rate.NewLimiter(rate.Every(v.cfg.Marker.MinInterval), 1)
	return Pending("scanning for a reference marker")
}

// Deadline applies while no marker has been seen; the first accepted
// detection parks the strategy in NeedsUserInput, which cancels it.
func (v *VisualMarker) Deadline() time.Duration { return v.cfg.Marker.Timeout }

func (v *VisualMarker) Deactivate() {
	v.platform.StopSensor(SensorFrameAnalysis)
	v.last = nil
	v.prompted = ""
	v.base.Deactivate()
}

func (v *VisualMarker) HandleMarker(d model.MarkerDetection) Outcome {
	if !v.listening() {
		return Outcome{}
	}
	// Throttle on detection timestamps so replays behave like live frames.
	if !v.limiter.AllowN(d.Timestamp, 1) {
		return Outcome{}
	}
	if !v.accept(d) {
		return Outcome{}
	}

	v.last = &d
	if coord, ok := v.session.ReferencePoints[d.MarkerID]; ok {
		return v.place(d, coord)
	}
	if v.prompted == d.MarkerID {
		return Outcome{}
	}
	v.prompted = d.MarkerID
	return NeedsUserInput(fmt.Sprintf("marker %q detected; enter its surveyed coordinate", d.MarkerID))
}

// HandleReferencePoint completes a placement for the last accepted
// detection once its coordinate is known.
func (v *VisualMarker) HandleReferencePoint(rp model.ReferencePoint) Outcome {
	if !v.listening() || v.last == nil || v.last.MarkerID != rp.MarkerID {
		return Outcome{}
	}
	return v.place(*v.last, rp.Coordinate)
}

func (v *VisualMarker) accept(d model.MarkerDetection) bool {
	m := v.cfg.Marker
	return d.Confidence > m.MinConfidence &&
		d.BoundingBox.Width >= m.MinBoxSize &&
		d.BoundingBox.Height >= m.MinBoxSize
}

// place puts the reference coordinate where it lies relative to the marker.
// Marker orientation is not estimated, so the rotation is identity.
func (v *VisualMarker) place(d model.MarkerDetection, markerAt model.Coordinate) Outcome {
	offset := v.session.Offset(markerAt, v.session.Reference)
	return v.positioned(PlacementTransform{
		Translation: d.Position.Add(offset),
		Scale:       1,
	})
}
