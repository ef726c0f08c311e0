package scenario

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
	"github.com/signalsfoundry/parcel-positioning/timectrl"
)

// Options configure a replay.
type Options struct {
	Config  positioning.Config
	Logger  logging.Logger
	Metrics positioning.MetricsRecorder
	Tracer  trace.Tracer

	// Observer sees every event as it is produced.
	Observer positioning.EventSink

	// Tick is the simulated step of Replay; defaults to 10ms.
	Tick time.Duration

	// PollInterval and FrameMetrics apply to RunLive only.
	PollInterval time.Duration
	FrameMetrics positioning.FrameMetrics
}

func (o Options) tick() time.Duration {
	if o.Tick <= 0 {
		return 10 * time.Millisecond
	}
	return o.Tick
}

// Result summarizes a replay.
type Result struct {
	Scenario string
	Start    time.Time
	Events   []positioning.Event
	Final    positioning.Snapshot

	// StepErrors holds rejected submissions; they do not abort the replay.
	StepErrors []error
}

// Methods lists activated strategies in order.
func (r *Result) Methods() []positioning.Kind {
	var out []positioning.Kind
	for _, e := range r.Events {
		if e.Type == positioning.EventMethodChanged {
			out = append(out, e.Kind)
		}
	}
	return out
}

// FirstPlacement returns the first positioned event.
func (r *Result) FirstPlacement() (positioning.Event, bool) {
	for _, e := range r.Events {
		if e.Type == positioning.EventPositioned {
			return e, true
		}
	}
	return positioning.Event{}, false
}

// TimeToPosition is the scenario time of the first placement.
func (r *Result) TimeToPosition() (time.Duration, bool) {
	ev, ok := r.FirstPlacement()
	if !ok {
		return 0, false
	}
	return ev.At.Sub(r.Start), true
}

// Check compares the replay with exp and reports every mismatch.
func (r *Result) Check(exp Expectation) error {
	var errs []error
	if exp.Methods != nil {
		if got := r.Methods(); !slices.Equal(got, exp.Methods) {
			errs = append(errs, eris.Errorf("methods = %v, want %v", got, exp.Methods))
		}
	}
	ev, placed := r.FirstPlacement()
	switch {
	case exp.PositionedBy == positioning.KindNone && placed:
		errs = append(errs, eris.Errorf("positioned by %s, want no placement", ev.Kind))
	case exp.PositionedBy != positioning.KindNone && !placed:
		errs = append(errs, eris.Errorf("never positioned, want %s", exp.PositionedBy))
	case placed && ev.Kind != exp.PositionedBy:
		errs = append(errs, eris.Errorf("positioned by %s, want %s", ev.Kind, exp.PositionedBy))
	}
	if exp.Within > 0 && placed {
		if took := ev.At.Sub(r.Start); took > exp.Within {
			errs = append(errs, eris.Errorf("positioned after %s, want within %s", took, exp.Within))
		}
	}
	if exp.NeedsUserInput && !slices.ContainsFunc(r.Events, func(e positioning.Event) bool {
		return e.Type == positioning.EventNeedsUserInput
	}) {
		errs = append(errs, eris.New("no needs_user_input event"))
	}
	if exp.FinalState != "" && r.Final.State.String() != exp.FinalState {
		errs = append(errs, eris.Errorf("final state = %s, want %s", r.Final.State, exp.FinalState))
	}
	return errors.Join(errs...)
}

type eventCollector struct {
	mu       sync.Mutex
	events   []positioning.Event
	observer positioning.EventSink
}

func (c *eventCollector) Emit(e positioning.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.Emit(e)
	}
}

func (c *eventCollector) snapshot() []positioning.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]positioning.Event(nil), c.events...)
}

// Replay runs sc deterministically: simulated time advances in ticks on a
// TimeController and every callback runs on the calling goroutine. The same
// scenario always yields the same events.
func Replay(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	tick := opts.tick()
	clock := timectrl.NewTimeController(sc.Start, tick, timectrl.Accelerated)
	s := sched.NewEventScheduler(clock)
	platform := NewSimPlatform(sc.Platform, s)
	collector := &eventCollector{observer: opts.Observer}

	orch, err := positioning.NewOrchestrator(positioning.Options{
		Config:    opts.Config,
		Scheduler: s,
		Platform:  platform,
		Anchors:   platform,
		Sink:      collector,
		Logger:    log,
		Metrics:   opts.Metrics,
		Tracer:    opts.Tracer,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scenario: build orchestrator")
	}
	platform.Bind(orch)

	res := &Result{Scenario: sc.Name, Start: sc.Start}
	for _, step := range timeline(sc) {
		step := step
		s.Schedule(sc.Start.Add(step.At), func() {
			stamp(&step, clock.Now())
			if err := step.Apply(orch); err != nil {
				log.Warn(ctx, "scenario step rejected",
					logging.String("step", string(step.Kind)), logging.Duration("at", step.At), logging.Err(err))
				res.StepErrors = append(res.StepErrors, eris.Wrapf(err, "%s at %s", step.Kind, step.At))
			}
		})
	}

	log.Info(ctx, "replaying scenario",
		logging.String("scenario", sc.Name),
		logging.Duration("duration", sc.Duration),
		logging.Duration("tick", tick),
	)
	stepTimes := stepOffsets(sc)
	end := sc.Start.Add(sc.Duration)
	s.RunDue()
	for clock.Now().Before(end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := clock.Now()
		next := now.Add(tick)
		// Land exactly on step times so inputs carry their scripted time.
		if i := sort.Search(len(stepTimes), func(i int) bool { return sc.Start.Add(stepTimes[i]).After(now) }); i < len(stepTimes) {
			if at := sc.Start.Add(stepTimes[i]); at.Before(next) {
				next = at
			}
		}
		if next.After(end) {
			next = end
		}
		clock.SetTime(next)
		s.RunDue()
	}

	res.Events = collector.snapshot()
	res.Final = orch.Snapshot()
	return res, nil
}

// RunLive drives an Engine in wall-clock time: a feeder goroutine delivers
// steps when they fall due, marker detections pass through a FrameAnalyzer,
// and the platform answers on the engine's scheduler. It returns once
// sc.Duration has elapsed or ctx is cancelled.
func RunLive(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	s := sched.NewEventScheduler(timectrl.WallClock{})
	platform := NewSimPlatform(sc.Platform, s)

	eng, err := positioning.NewEngine(positioning.EngineOptions{
		Options: positioning.Options{
			Config:    opts.Config,
			Scheduler: s,
			Platform:  platform,
			Anchors:   platform,
			Logger:    log,
			Metrics:   opts.Metrics,
			Tracer:    opts.Tracer,
		},
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scenario: build engine")
	}
	platform.Bind(engineAnchors{eng: eng})

	frames := newStepDetector()
	analyzer := positioning.NewFrameAnalyzer(frames, eng.HandleMarker, opts.Config.Marker.MinInterval, opts.FrameMetrics, log)

	start := time.Now()
	res := &Result{Scenario: sc.Name, Start: start}
	collector := &eventCollector{observer: opts.Observer}
	target := &engineTarget{ctx: ctx, eng: eng, analyzer: analyzer, frames: frames}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error {
		if err := analyzer.Run(gctx); err != nil && !errors.Is(err, positioning.ErrEngineStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for ev := range eng.Events() {
			collector.Emit(ev)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for _, step := range timeline(sc) {
			if !sleepUntil(gctx, start.Add(step.At)) {
				return nil
			}
			stamp(&step, time.Now())
			if err := step.Apply(target); err != nil {
				res.StepErrors = append(res.StepErrors, eris.Wrapf(err, "%s at %s", step.Kind, step.At))
			}
		}
		if !sleepUntil(gctx, start.Add(sc.Duration)) {
			return nil
		}
		snap, err := eng.Snapshot(gctx)
		if err != nil {
			return eris.Wrap(err, "scenario: final snapshot")
		}
		res.Final = snap
		return nil
	})

	log.Info(ctx, "running scenario live", logging.String("scenario", sc.Name), logging.Duration("duration", sc.Duration))
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Events = collector.snapshot()
	if accepted, dropped := analyzer.Stats(); accepted+dropped > 0 {
		log.Info(ctx, "frame analyzer", logging.Any("accepted", accepted), logging.Any("dropped", dropped))
	}
	return res, nil
}

func sleepUntil(ctx context.Context, at time.Time) bool {
	t := time.NewTimer(time.Until(at))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// timeline returns the steps in time order, with the scenario boundary
// submitted first when no step submits one.
func timeline(sc *Scenario) []Step {
	steps := make([]Step, 0, len(sc.Steps)+1)
	if !sc.HasSubmitStep() {
		steps = append(steps, Step{Kind: StepSubmit, Boundary: sc.Boundary})
	}
	steps = append(steps, sc.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At < steps[j].At })
	return steps
}

func stepOffsets(sc *Scenario) []time.Duration {
	out := make([]time.Duration, 0, len(sc.Steps))
	for _, s := range sc.Steps {
		out = append(out, s.At)
	}
	slices.Sort(out)
	return out
}

// stamp fills sensor timestamps the scenario left out.
func stamp(s *Step, now time.Time) {
	switch s.Kind {
	case StepMarker:
		if s.Marker.Timestamp.IsZero() {
			s.Marker.Timestamp = now
		}
	case StepHeading:
		if s.Heading.Timestamp.IsZero() {
			s.Heading.Timestamp = now
		}
	case StepLocation:
		if s.Location.Timestamp.IsZero() {
			s.Location.Timestamp = now
		}
	}
}

// engineAnchors forwards platform answers into the engine. They are
// produced inside the engine loop, so they are posted from a new goroutine
// rather than blocking the loop on its own inbox.
type engineAnchors struct {
	eng *positioning.Engine
}

func (a engineAnchors) HandleAnchorAvailability(av model.AnchorAvailability) {
	go func() { _ = a.eng.HandleAnchorAvailability(av) }()
}

func (a engineAnchors) HandleAnchorResolved(r model.AnchorResolved) {
	go func() { _ = a.eng.HandleAnchorResolved(r) }()
}

// engineTarget adapts an Engine to Target. Marker steps become camera frames
// offered to the analyzer.
type engineTarget struct {
	ctx      context.Context
	eng      *positioning.Engine
	analyzer *positioning.FrameAnalyzer
	frames   *stepDetector
	seq      uint64
}

func (t *engineTarget) Submit(set model.BoundarySet) error { return t.eng.Submit(t.ctx, set) }
func (t *engineTarget) Reset()                             { _ = t.eng.Reset(t.ctx) }
func (t *engineTarget) Skip()                              { _ = t.eng.Skip(t.ctx) }

func (t *engineTarget) HandleLocation(f model.LocationFix)   { _ = t.eng.HandleLocation(f) }
func (t *engineTarget) HandleHeading(h model.HeadingUpdate)  { _ = t.eng.HandleHeading(h) }
func (t *engineTarget) HandleSurface(ev model.SurfaceEvent)  { _ = t.eng.HandleSurface(ev) }
func (t *engineTarget) HandleReferenceBearing(deg float64)   { _ = t.eng.HandleReferenceBearing(deg) }
func (t *engineTarget) HandleTap(tap model.Tap)              { _ = t.eng.HandleTap(tap) }
func (t *engineTarget) HandleMarkerMove(mv model.MarkerMove) { _ = t.eng.HandleMarkerMove(mv) }
func (t *engineTarget) HandleViewerPose(p model.Pose)        { _ = t.eng.HandleViewerPose(p) }
func (t *engineTarget) HandleCorrespondence(c model.Correspondence) {
	_ = t.eng.HandleCorrespondence(c)
}
func (t *engineTarget) HandleReferencePoint(rp model.ReferencePoint) {
	_ = t.eng.HandleReferencePoint(rp)
}

func (t *engineTarget) HandleMarker(d model.MarkerDetection) {
	t.seq++
	t.frames.put(t.seq, d)
	if !t.analyzer.Offer(positioning.Frame{Seq: t.seq, Timestamp: d.Timestamp}) {
		t.frames.take(t.seq)
	}
}

// stepDetector "detects" the marker a scenario step attached to a frame.
type stepDetector struct {
	mu    sync.Mutex
	bySeq map[uint64]model.MarkerDetection
}

func newStepDetector() *stepDetector {
	return &stepDetector{bySeq: make(map[uint64]model.MarkerDetection)}
}

func (d *stepDetector) put(seq uint64, det model.MarkerDetection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySeq[seq] = det
}

func (d *stepDetector) take(seq uint64) (model.MarkerDetection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	det, ok := d.bySeq[seq]
	delete(d.bySeq, seq)
	return det, ok
}

func (d *stepDetector) Detect(_ context.Context, f positioning.Frame) ([]model.MarkerDetection, error) {
	det, ok := d.take(f.Seq)
	if !ok {
		return nil, nil
	}
	return []model.MarkerDetection{det}, nil
}
