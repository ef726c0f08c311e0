package positioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/parcel-positioning/core"
	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
)

const tracerName = "github.com/signalsfoundry/parcel-positioning/internal/positioning"

// Options configures an Orchestrator. Scheduler is required; every other
// field has a usable default.
type Options struct {
	Config    Config
	Scheduler sched.EventScheduler
	Platform  Platform
	Anchors   AnchorService
	Sink      EventSink
	Logger    logging.Logger
	Metrics   MetricsRecorder
	Tracer    trace.Tracer
}

// Orchestrator owns exactly one active strategy at a time and walks the
// cascade on failure. It is not safe for concurrent use: every method must be
// called from one serialized context (see Engine), and the scheduler's due
// callbacks must run on that same context.
type Orchestrator struct {
	cfg      Config
	cascade  Cascade
	sched    sched.EventScheduler
	deps     deps
	sink     EventSink
	log      logging.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer
	proj     core.Projector
	sessions uint64

	ctx     context.Context
	session *Session
	staged  Inputs
	active  Strategy

	attempt   uint64
	timeoutID string
	span      trace.Span

	// determining is true while an availability round-trip is outstanding;
	// submissions arriving meanwhile wait in queued.
	determining bool
	queued      model.BoundarySet
	// initialized records a placement for the current boundary set.
	initialized bool
	transform   PlacementTransform
}

// NewOrchestrator validates the config and wires defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("positioning: scheduler is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("positioning: invalid config: %w", err)
	}
	cascade, err := opts.Config.Cascade()
	if err != nil {
		return nil, err
	}
	proj, err := core.ParseProjector(opts.Config.Projector)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     opts.Config,
		cascade: cascade,
		sched:   opts.Scheduler,
		sink:    opts.Sink,
		log:     opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		proj:    proj,
		ctx:     context.Background(),
	}
	o.deps = deps{cfg: opts.Config, platform: opts.Platform, anchors: opts.Anchors}
	if o.deps.platform == nil {
		o.deps.platform = unavailablePlatform{}
	}
	if o.deps.anchors == nil {
		o.deps.anchors = unavailablePlatform{}
	}
	if o.sink == nil {
		o.sink = EventSinkFunc(func(Event) {})
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o, nil
}

// Submit hands the orchestrator a boundary set. Rings with fewer than two
// points are dropped, and a set equivalent to the current one is a no-op.
// While an availability check is outstanding the latest differing set is
// queued and started once the check resolves.
func (o *Orchestrator) Submit(set model.BoundarySet) error {
	usable, err := prepareBoundary(set)
	if err != nil {
		o.status(fmt.Sprintf("cannot position: %v", err))
		return err
	}

	if o.session != nil && core.EquivalentSets(o.session.Boundary, usable, o.cfg.SetTolerance) {
		o.log.Debug(o.ctx, "boundary unchanged; ignoring submission")
		o.queued = nil
		return nil
	}
	if o.determining {
		if o.queued == nil || !core.EquivalentSets(o.queued, usable, o.cfg.SetTolerance) {
			o.log.Info(o.ctx, "availability check in flight; queueing boundary",
				logging.Int("rings", len(usable)))
		}
		o.queued = usable
		return nil
	}

	o.startSession(usable)
	o.settle()
	return nil
}

// prepareBoundary opens GeoJSON-closed rings and drops unusable ones.
func prepareBoundary(set model.BoundarySet) (model.BoundarySet, error) {
	opened := make(model.BoundarySet, 0, len(set))
	for i, ring := range set {
		for j, c := range ring {
			if !c.Valid() {
				return nil, fmt.Errorf("ring %d vertex %d %s out of range: %w", i, j, c, ErrNoUsableBoundary)
			}
		}
		opened = append(opened, ring.Open())
	}
	usable := opened.Usable()
	if len(usable) == 0 {
		return nil, ErrNoUsableBoundary
	}
	return usable, nil
}

// Reset abandons the current session and strategy.
func (o *Orchestrator) Reset() {
	if o.session == nil && o.active == nil {
		return
	}
	o.log.Info(o.ctx, "positioning reset")
	o.teardown(ErrSessionSuperseded)
	o.session = nil
	o.staged = Inputs{}
	o.queued = nil
	o.initialized = false
	o.transform = PlacementTransform{}
	o.metrics.Idle()
	o.status("positioning reset")
	o.ctx = context.Background()
}

// Skip abandons the active strategy, typically one resting in
// NeedsUserInput, and moves to the next in the cascade. ManualAlignment
// cannot be skipped.
func (o *Orchestrator) Skip() {
	if o.active == nil || o.active.Kind() == KindManualAlignment {
		return
	}
	o.apply(Failed(fmt.Errorf("%s: %w", o.active.Kind(), ErrSkipped)))
	o.settle()
}

// HandleLocation forwards a GNSS fix.
func (o *Orchestrator) HandleLocation(fix model.LocationFix) {
	o.inputs().LastFix = &fix
	o.dispatch(func(s Strategy) Outcome { return s.HandleLocation(fix) })
}

// HandleHeading forwards a compass reading.
func (o *Orchestrator) HandleHeading(h model.HeadingUpdate) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleHeading(h) })
}

// HandleSurface forwards a plane detection event.
func (o *Orchestrator) HandleSurface(ev model.SurfaceEvent) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleSurface(ev) })
}

// HandleMarker forwards a marker detection from the frame analyzer.
func (o *Orchestrator) HandleMarker(d model.MarkerDetection) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleMarker(d) })
}

// HandleAnchorAvailability forwards the platform's availability answer.
func (o *Orchestrator) HandleAnchorAvailability(a model.AnchorAvailability) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleAnchorAvailability(a) })
}

// HandleAnchorResolved forwards the platform's anchor localization.
func (o *Orchestrator) HandleAnchorResolved(r model.AnchorResolved) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleAnchorResolved(r) })
}

// HandleReferenceBearing records the bearing, in degrees clockwise from
// north, that the user says they are facing.
func (o *Orchestrator) HandleReferenceBearing(degrees float64) {
	o.inputs().setBearing(degrees)
	o.dispatch(func(s Strategy) Outcome { return s.HandleReferenceBearing(degrees) })
}

// HandleReferencePoint records a marker-to-coordinate mapping.
func (o *Orchestrator) HandleReferencePoint(rp model.ReferencePoint) {
	o.inputs().addReferencePoint(rp)
	o.dispatch(func(s Strategy) Outcome { return s.HandleReferencePoint(rp) })
}

// HandleCorrespondence records a pre-captured (coordinate, tap) pair.
func (o *Orchestrator) HandleCorrespondence(c model.Correspondence) {
	in := o.inputs()
	in.Correspondences = append(in.Correspondences, c)
	o.dispatch(func(s Strategy) Outcome { return s.HandleCorrespondence(c) })
}

// HandleTap forwards a manual-alignment tap.
func (o *Orchestrator) HandleTap(t model.Tap) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleTap(t) })
}

// HandleMarkerMove forwards a drag of an already placed alignment marker.
func (o *Orchestrator) HandleMarkerMove(mv model.MarkerMove) {
	o.dispatch(func(s Strategy) Outcome { return s.HandleMarkerMove(mv) })
}

// HandleViewerPose records the camera pose used for viewer-relative
// placement.
func (o *Orchestrator) HandleViewerPose(p model.Pose) {
	o.inputs().Viewer = p
	o.dispatch(func(s Strategy) Outcome { return s.HandleViewerPose(p) })
}

// Snapshot is a read-only view of orchestrator state.
type Snapshot struct {
	SessionID     string
	Reference     model.Coordinate
	Active        Kind
	State         State
	Attempt       uint64
	Determining   bool
	Initialized   bool
	QueuedPending bool
	Transform     PlacementTransform
	Generation    uint64
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Snapshot{
		Attempt:       o.attempt,
		Determining:   o.determining,
		Initialized:   o.initialized,
		QueuedPending: o.queued != nil,
		Transform:     o.transform,
	}
	if o.session != nil {
		snap.SessionID = o.session.ID
		snap.Reference = o.session.Reference
		snap.Generation = o.session.Generation
	}
	if o.active != nil {
		snap.Active = o.active.Kind()
		snap.State = o.active.State()
	}
	return snap
}

// inputs returns where user input should be recorded: the live session, or
// the staging area that seeds the next one.
func (o *Orchestrator) inputs() *Inputs {
	if o.session != nil {
		return &o.session.Inputs
	}
	return &o.staged
}

func (o *Orchestrator) startSession(set model.BoundarySet) {
	inputs := o.staged.clone()
	o.staged = Inputs{}
	if prev := o.session; prev != nil {
		o.log.Info(o.ctx, "boundary changed; superseding session")
		o.teardown(ErrSessionSuperseded)
		o.metrics.SessionSuperseded()
		inputs = carryOver(prev.Inputs, inputs)
	}

	ref, _ := core.ReferenceCoordinate(set)
	o.sessions++
	s := &Session{
		ID:         logging.NewSessionID(),
		Boundary:   set,
		Reference:  ref,
		StartedAt:  o.sched.Now(),
		Generation: o.sessions,
		Projector:  o.proj,
		Inputs:     inputs,
	}
	o.session = s
	o.initialized = false
	o.transform = PlacementTransform{}
	o.ctx = logging.ContextWithSessionID(context.Background(), s.ID)
	o.metrics.SessionStarted()

	o.log.Info(o.ctx, "positioning session started",
		logging.String("reference", ref.String()),
		logging.Int("rings", len(set)),
		logging.Int("vertices", set.VertexCount()),
	)
	o.activate(o.cascade.First())
}

// carryOver keeps the parcel-independent inputs of a superseded session:
// viewer pose, last fix, bearing and marker mappings. Taps and
// correspondences belong to the old parcel and are dropped.
func carryOver(prev, next Inputs) Inputs {
	prev = prev.clone()
	if next.LastFix == nil {
		next.LastFix = prev.LastFix
	}
	if next.Viewer == (model.Pose{}) {
		next.Viewer = prev.Viewer
	}
	if !next.HasBearing && prev.HasBearing {
		next.setBearing(prev.ReferenceBearing)
	}
	for id, c := range prev.ReferencePoints {
		if _, ok := next.ReferencePoints[id]; !ok {
			next.addReferencePoint(model.ReferencePoint{MarkerID: id, Coordinate: c})
		}
	}
	return next
}

// teardown deactivates the active strategy without emitting anything.
func (o *Orchestrator) teardown(reason error) {
	o.cancelTimeout()
	if o.active != nil {
		o.active.Deactivate()
		o.endSpan("superseded", reason)
		o.active = nil
	}
	o.attempt++
	o.determining = false
}

func (o *Orchestrator) activate(kind Kind) {
	o.attempt++
	now := o.sched.Now()
	s := o.session
	s.Active = kind
	s.Attempt = o.attempt
	s.AttemptStartedAt = now

	strategy := newStrategy(kind, o.deps)
	o.active = strategy

	_, o.span = o.tracer.Start(o.ctx, "positioning."+kind.String(), trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.Int("strategy.priority", kind.Priority()),
		attribute.Int64("attempt", int64(o.attempt)),
	))
	o.metrics.StrategyActivated(kind.String(), kind.Priority())
	o.log.Info(o.ctx, "strategy activated",
		logging.String("strategy", kind.String()),
		logging.Int("attempt", int(o.attempt)),
	)
	o.emit(Event{Type: EventMethodChanged, Kind: kind})

	if d := strategy.Deadline(); d > 0 {
		o.armTimeout(d)
	}

	o.apply(strategy.Activate(s))
}

func (o *Orchestrator) onTimeout(attempt uint64) {
	if attempt != o.attempt || o.active == nil {
		return
	}
	o.timeoutID = ""
	o.log.Info(o.ctx, "strategy deadline passed",
		logging.String("strategy", o.active.Kind().String()),
		logging.Duration("after", o.session.AttemptElapsed(o.sched.Now())),
	)
	o.apply(o.active.Expire())
	o.settle()
}

// dispatch delivers an event to the active strategy and applies the result.
func (o *Orchestrator) dispatch(f func(Strategy) Outcome) {
	if o.active == nil {
		return
	}
	o.apply(f(o.active))
	o.settle()
}

// apply performs the transition an outcome calls for.
func (o *Orchestrator) apply(out Outcome) {
	if o.active == nil {
		return
	}
	kind := o.active.Kind()

	switch out.Type {
	case OutcomeNone:
		return

	case OutcomePending:
		if out.disarm {
			o.cancelTimeout()
		}
		if out.rearm > 0 {
			o.cancelTimeout()
			o.armTimeout(out.rearm)
		}
		if out.Err != nil {
			o.log.Debug(o.ctx, "sensor advisory",
				logging.String("strategy", kind.String()), logging.Err(out.Err))
		}
		o.status(out.Message)

	case OutcomeNeedsUserInput:
		o.cancelTimeout()
		fields := []logging.Field{logging.String("strategy", kind.String())}
		if out.Err != nil {
			fields = append(fields, logging.Err(out.Err))
		}
		o.log.Info(o.ctx, "waiting for user input", fields...)
		o.metrics.StrategyFinished(kind.String(), OutcomeNeedsUserInput.String())
		o.emit(Event{Type: EventNeedsUserInput, Kind: kind, Message: out.Message})

	case OutcomePositioned:
		o.cancelTimeout()
		o.positioned(kind, out.Transform)

	case OutcomeFailed:
		o.cancelTimeout()
		o.fail(kind, out.Err)
	}
}

func (o *Orchestrator) positioned(kind Kind, t PlacementTransform) {
	if !t.IsFinite() {
		o.log.Error(o.ctx, "strategy produced a non-finite transform; ignoring",
			logging.String("strategy", kind.String()), logging.String("transform", t.String()))
		return
	}

	first := !o.initialized
	o.initialized = true
	o.transform = t
	s := o.session

	if first {
		elapsed := s.Elapsed(o.sched.Now())
		o.metrics.StrategyFinished(kind.String(), OutcomePositioned.String())
		o.metrics.Positioned(kind.String(), elapsed)
		o.endSpan(OutcomePositioned.String(), nil)
		o.log.Info(o.ctx, "positioned",
			logging.String("strategy", kind.String()),
			logging.Duration("elapsed", elapsed),
			logging.String("transform", t.String()),
		)
	} else {
		o.log.Debug(o.ctx, "placement updated",
			logging.String("strategy", kind.String()), logging.String("transform", t.String()))
	}

	o.emit(Event{Type: EventPositioned, Kind: kind, Transform: t, Fragment: s.Fragment()})
}

func (o *Orchestrator) fail(kind Kind, reason error) {
	result := OutcomeFailed.String()
	if errors.Is(reason, ErrTimeout) {
		result = "timeout"
	}
	o.log.Info(o.ctx, "strategy failed",
		logging.String("strategy", kind.String()), logging.Err(reason))
	o.metrics.StrategyFinished(kind.String(), result)
	o.endSpan(result, reason)

	o.active.Deactivate()
	o.active = nil
	o.determining = false

	next, ok := o.cascade.Next(kind)
	if !ok {
		// Only reachable if the last strategy fails; the cascade always
		// degrades to waiting for manual input.
		o.activate(KindManualAlignment)
		return
	}
	o.status(fmt.Sprintf("%s unavailable; trying %s", kind, next))
	o.activate(next)
}

// settle updates the determining flag and starts a queued submission once
// the availability round-trip has resolved.
func (o *Orchestrator) settle() {
	o.determining = o.active != nil && o.active.Determining()
	if o.determining || o.queued == nil {
		return
	}
	next := o.queued
	o.queued = nil
	if err := o.Submit(next); err != nil {
		o.log.Warn(o.ctx, "queued boundary rejected", logging.Err(err))
	}
}

func (o *Orchestrator) armTimeout(d time.Duration) {
	attempt := o.attempt
	o.timeoutID = o.sched.After(d, func() { o.onTimeout(attempt) })
}

func (o *Orchestrator) cancelTimeout() {
	if o.timeoutID == "" {
		return
	}
	o.sched.Cancel(o.timeoutID)
	o.timeoutID = ""
}

func (o *Orchestrator) endSpan(result string, err error) {
	if o.span == nil {
		return
	}
	o.span.SetAttributes(attribute.String("outcome", result))
	if err != nil && !errors.Is(err, ErrSessionSuperseded) {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()
	o.span = nil
}

func (o *Orchestrator) status(msg string) {
	if msg == "" {
		return
	}
	kind := KindNone
	if o.active != nil {
		kind = o.active.Kind()
	}
	o.emit(Event{Type: EventStatusChanged, Kind: kind, Message: msg})
}

func (o *Orchestrator) emit(e Event) {
	e.At = o.sched.Now()
	if o.session != nil {
		e.SessionID = o.session.ID
	}
	o.sink.Emit(e)
}
