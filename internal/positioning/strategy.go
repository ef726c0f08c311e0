package positioning

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// Strategy is one positioning method. The set of implementations is closed:
// GeoAnchor, PlaneDetection, VisualMarker, CompassBearing and
// ManualAlignment. Every handler runs on the orchestrator's serialized
// context and returns the zero Outcome when nothing changed.
type Strategy interface {
	Kind() Kind
	State() State

	// Activate moves Idle → Listening. The session stays valid until
	// Deactivate.
	Activate(s *Session) Outcome
	// Deactivate releases sensors and anchors synchronously.
	Deactivate()
	// Deadline is how long the strategy may listen before Expire is called;
	// zero means no deadline.
	Deadline() time.Duration
	// Expire is called when the deadline passes.
	Expire() Outcome
	// Determining reports an outstanding availability round-trip.
	Determining() bool

	HandleLocation(model.LocationFix) Outcome
	HandleHeading(model.HeadingUpdate) Outcome
	HandleSurface(model.SurfaceEvent) Outcome
	HandleMarker(model.MarkerDetection) Outcome
	HandleAnchorAvailability(model.AnchorAvailability) Outcome
	HandleAnchorResolved(model.AnchorResolved) Outcome
	HandleReferenceBearing(degrees float64) Outcome
	HandleReferencePoint(model.ReferencePoint) Outcome
	HandleCorrespondence(model.Correspondence) Outcome
	HandleTap(model.Tap) Outcome
	HandleMarkerMove(model.MarkerMove) Outcome
	HandleViewerPose(model.Pose) Outcome

	sealed()
}

// deps are the collaborators every strategy may use.
type deps struct {
	cfg      Config
	platform Platform
	anchors  AnchorService
}

// base carries the shared state machine and no-op handlers.
type base struct {
	kind    Kind
	state   State
	session *Session
	deps
}

func (b *base) Kind() Kind              { return b.kind }
func (b *base) State() State            { return b.state }
func (b *base) Deadline() time.Duration { return 0 }
func (b *base) Determining() bool       { return false }
func (b *base) Deactivate()             { b.state = StateIdle }
func (b *base) sealed()                 {}
func (b *base) listening() bool         { return b.state == StateListening }
func (b *base) start(s *Session)        { b.session, b.state = s, StateListening }

func (b *base) positioned(t PlacementTransform) Outcome {
	b.state = StatePositioned
	return Positioned(t)
}

func (b *base) fail(err error) Outcome {
	b.state = StateFailed
	return Failed(fmt.Errorf("%s: %w", b.kind, err))
}

func (b *base) Expire() Outcome {
	if !b.listening() {
		return Outcome{}
	}
	return b.fail(ErrTimeout)
}

func (b *base) HandleLocation(model.LocationFix) Outcome                  { return Outcome{} }
func (b *base) HandleHeading(model.HeadingUpdate) Outcome                 { return Outcome{} }
func (b *base) HandleSurface(model.SurfaceEvent) Outcome                  { return Outcome{} }
func (b *base) HandleMarker(model.MarkerDetection) Outcome                { return Outcome{} }
func (b *base) HandleAnchorAvailability(model.AnchorAvailability) Outcome { return Outcome{} }
func (b *base) HandleAnchorResolved(model.AnchorResolved) Outcome         { return Outcome{} }
func (b *base) HandleReferenceBearing(float64) Outcome                    { return Outcome{} }
func (b *base) HandleReferencePoint(model.ReferencePoint) Outcome         { return Outcome{} }
func (b *base) HandleCorrespondence(model.Correspondence) Outcome         { return Outcome{} }
func (b *base) HandleTap(model.Tap) Outcome                               { return Outcome{} }
func (b *base) HandleMarkerMove(model.MarkerMove) Outcome                 { return Outcome{} }
func (b *base) HandleViewerPose(model.Pose) Outcome                       { return Outcome{} }

// newStrategy constructs a fresh, idle instance of kind.
func newStrategy(kind Kind, d deps) Strategy {
	b := base{kind: kind, deps: d}
	switch kind {
	case KindGeoAnchor:
		return &GeoAnchor{base: b}
	case KindPlaneDetection:
		return &PlaneDetection{base: b}
	case KindVisualMarker:
		return &VisualMarker{base: b}
	case KindCompassBearing:
		return &CompassBearing{base: b}
	case KindManualAlignment:
		return &ManualAlignment{base: b}
	default:
		panic(fmt.Sprintf("positioning: no strategy for %s", kind))
	}
}
