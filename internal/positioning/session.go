package positioning

import (
	"time"

	"github.com/signalsfoundry/parcel-positioning/core"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// Inputs are the user- and sensor-supplied facts a strategy may need. They
// live on the session so a strategy activated later sees input given earlier.
type Inputs struct {
	HasBearing       bool
	ReferenceBearing float64 // degrees clockwise from north
	ReferencePoints  map[string]model.Coordinate
	Correspondences  []model.Correspondence
	Taps             []model.Tap
	Viewer           model.Pose
	LastFix          *model.LocationFix
}

func (in *Inputs) setBearing(deg float64) {
	in.HasBearing = true
	in.ReferenceBearing = normalizeDegrees(deg)
}

func (in *Inputs) addReferencePoint(rp model.ReferencePoint) {
	if in.ReferencePoints == nil {
		in.ReferencePoints = make(map[string]model.Coordinate)
	}
	in.ReferencePoints[rp.MarkerID] = rp.Coordinate
}

func (in Inputs) clone() Inputs {
	out := in
	if in.ReferencePoints != nil {
		out.ReferencePoints = make(map[string]model.Coordinate, len(in.ReferencePoints))
		for k, v := range in.ReferencePoints {
			out.ReferencePoints[k] = v
		}
	}
	out.Correspondences = append([]model.Correspondence(nil), in.Correspondences...)
	out.Taps = append([]model.Tap(nil), in.Taps...)
	if in.LastFix != nil {
		fix := *in.LastFix
		out.LastFix = &fix
	}
	return out
}

// Session is the mutable state shared between the orchestrator and the
// active strategy for one boundary set. Only the orchestrator's serialized
// context touches it.
type Session struct {
	ID        string
	Boundary  model.BoundarySet
	Reference model.Coordinate
	StartedAt time.Time
	// Generation keys the session's geometry fragment for the renderer.
	Generation uint64
	// Projector maps coordinates into the fragment frame. Strategies must
	// use it too, or their transforms disagree with the fragment.
	Projector core.Projector

	Active           Kind
	Attempt          uint64
	AttemptStartedAt time.Time

	Inputs

	fragment *core.GeometryFragment
}

// Subject returns ring 0 of the session boundary.
func (s *Session) Subject() model.BoundaryRing { return s.Boundary.Subject() }

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration { return now.Sub(s.StartedAt) }

// AttemptElapsed returns the time since the active strategy was activated.
func (s *Session) AttemptElapsed(now time.Time) time.Duration { return now.Sub(s.AttemptStartedAt) }

// LocalPoint projects c into the fragment's local frame.
func (s *Session) LocalPoint(c model.Coordinate) model.Vec3 {
	return s.Offset(s.Reference, c)
}

// Offset returns target relative to origin in the renderer's local frame.
func (s *Session) Offset(origin, target model.Coordinate) model.Vec3 {
	return s.projector().ToENU(origin, target).Local()
}

func (s *Session) projector() core.Projector {
	if s.Projector == nil {
		return core.DefaultProjector
	}
	return s.Projector
}

func (s *Session) builder() *core.GeometryBuilder {
	b := core.NewGeometryBuilder()
	b.Projector = s.projector()
	return b
}

// SubjectExtent returns the horizontal width (east) and length (north) of the
// projected subject ring, in metres.
func (s *Session) SubjectExtent() (width, length float64) {
	return s.builtFragment().Extent(core.RoleSubject)
}

// Fragment returns a copy of the session's geometry fragment, building it on
// first use. Every caller gets its own slices.
func (s *Session) Fragment() core.GeometryFragment {
	return s.builtFragment().Clone()
}

func (s *Session) builtFragment() *core.GeometryFragment {
	if s.fragment == nil {
		f := s.builder().Build(s.Boundary, s.Reference, s.Generation)
		s.fragment = &f
	}
	return s.fragment
}
