package positioning

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// ErrEngineStopped is returned by Engine methods after Run has returned.
var ErrEngineStopped = errors.New("positioning engine stopped")

// EngineOptions configures an Engine. Options.Sink is ignored: the engine
// delivers events on Events().
type EngineOptions struct {
	Options

	// PollInterval is how often due scheduler callbacks run when no input
	// arrives. Defaults to 50ms.
	PollInterval time.Duration
	// InboxSize bounds queued input before callers block. Defaults to 64.
	InboxSize int
	// MaxPending bounds undelivered events when the consumer falls behind.
	// Defaults to 256.
	MaxPending int
}

// Engine runs an Orchestrator as a single-goroutine actor. Sensor callbacks
// from any goroutine post closures to its inbox; the Run loop executes them
// and the scheduler's due callbacks in order, so the orchestrator never sees
// concurrent calls. Output events are buffered internally and delivered on
// Events() in production order without blocking the loop. A placement that
// replaces one the consumer has not read yet takes its slot.
type Engine struct {
	orch  *Orchestrator
	sched sched.EventScheduler
	log   logging.Logger
	poll  time.Duration

	inbox      chan func()
	events     chan Event
	pending    []Event
	maxPending int
	done       chan struct{}
}

// NewEngine builds the orchestrator and the actor around it.
func NewEngine(opts EngineOptions) (*Engine, error) {
	e := &Engine{
		sched:  opts.Scheduler,
		log:    opts.Logger,
		poll:   opts.PollInterval,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	if e.poll <= 0 {
		e.poll = 50 * time.Millisecond
	}
	size := opts.InboxSize
	if size <= 0 {
		size = 64
	}
	e.inbox = make(chan func(), size)
	e.maxPending = opts.MaxPending
	if e.maxPending <= 0 {
		e.maxPending = 256
	}
	if e.log == nil {
		e.log = logging.Noop()
	}

	o := opts.Options
	o.Sink = EventSinkFunc(e.enqueue)
	orch, err := NewOrchestrator(o)
	if err != nil {
		return nil, err
	}
	e.orch = orch
	return e, nil
}

// Events delivers orchestrator output. The channel is closed when Run
// returns.
func (e *Engine) Events() <-chan Event { return e.events }

// Run processes input until ctx is cancelled. It must be called once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.events)
	defer close(e.done)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	e.log.Debug(ctx, "positioning engine started", logging.Duration("poll", e.poll))
	for {
		var out chan<- Event
		var next Event
		if len(e.pending) > 0 {
			out, next = e.events, e.pending[0]
		}

		select {
		case <-ctx.Done():
			e.log.Debug(ctx, "positioning engine stopped", logging.Int("undelivered", len(e.pending)))
			return nil
		case fn := <-e.inbox:
			fn()
			e.sched.RunDue()
		case <-ticker.C:
			e.sched.RunDue()
		case out <- next:
			e.pending[0] = Event{}
			e.pending = e.pending[1:]
		}
	}
}

// enqueue buffers ev for delivery. Runs on the loop goroutine.
func (e *Engine) enqueue(ev Event) {
	if n := len(e.pending); n > 0 && ev.Type == EventPositioned {
		if tail := e.pending[n-1]; tail.Type == EventPositioned && tail.SessionID == ev.SessionID {
			e.pending[n-1] = ev
			return
		}
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) > e.maxPending {
		e.compact()
	}
}

// compact keeps only the latest positioned and status event of each session
// alongside every method change and prompt. If that is still too many, the
// oldest events go.
func (e *Engine) compact() {
	type key struct {
		typ     EventType
		session string
	}
	superseded := func(ev Event) bool {
		return ev.Type == EventPositioned || ev.Type == EventStatusChanged
	}
	latest := make(map[key]int)
	for i, ev := range e.pending {
		if superseded(ev) {
			latest[key{ev.Type, ev.SessionID}] = i
		}
	}

	kept := e.pending[:0]
	for i, ev := range e.pending {
		if superseded(ev) && latest[key{ev.Type, ev.SessionID}] != i {
			continue
		}
		kept = append(kept, ev)
	}
	dropped := len(e.pending) - len(kept)
	clear(e.pending[len(kept):])
	e.pending = kept

	if over := len(e.pending) - e.maxPending; over > 0 {
		clear(e.pending[:over])
		e.pending = e.pending[over:]
		dropped += over
	}
	e.log.Warn(context.Background(), "event consumer is behind; dropped superseded events",
		logging.Int("dropped", dropped), logging.Int("pending", len(e.pending)))
}

func (e *Engine) post(ctx context.Context, fn func()) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- fn:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call posts fn and waits for it to run.
func call[T any](ctx context.Context, e *Engine, fn func() T) (T, error) {
	res := make(chan T, 1)
	var zero T
	if err := e.post(ctx, func() { res <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-res:
		return v, nil
	case <-e.done:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Submit hands the engine a boundary set and waits for it to be accepted.
func (e *Engine) Submit(ctx context.Context, set model.BoundarySet) error {
	res, err := call(ctx, e, func() error { return e.orch.Submit(set) })
	if err != nil {
		return err
	}
	return res
}

// Snapshot returns the orchestrator state as seen by the actor.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, e, e.orch.Snapshot)
}

// Reset abandons the current session.
func (e *Engine) Reset(ctx context.Context) error {
	return e.post(ctx, e.orch.Reset)
}

// Skip moves past the resting strategy.
func (e *Engine) Skip(ctx context.Context) error {
	return e.post(ctx, e.orch.Skip)
}

// The sensor and user-input entry points below may be called from any
// goroutine. They block only while the inbox is full.

func (e *Engine) HandleLocation(fix model.LocationFix) error {
	return e.post(context.Background(), func() { e.orch.HandleLocation(fix) })
}

func (e *Engine) HandleHeading(h model.HeadingUpdate) error {
	return e.post(context.Background(), func() { e.orch.HandleHeading(h) })
}

func (e *Engine) HandleSurface(ev model.SurfaceEvent) error {
	return e.post(context.Background(), func() { e.orch.HandleSurface(ev) })
}

func (e *Engine) HandleMarker(d model.MarkerDetection) error {
	return e.post(context.Background(), func() { e.orch.HandleMarker(d) })
}

func (e *Engine) HandleAnchorAvailability(a model.AnchorAvailability) error {
	return e.post(context.Background(), func() { e.orch.HandleAnchorAvailability(a) })
}

func (e *Engine) HandleAnchorResolved(r model.AnchorResolved) error {
	return e.post(context.Background(), func() { e.orch.HandleAnchorResolved(r) })
}

func (e *Engine) HandleReferenceBearing(degrees float64) error {
	return e.post(context.Background(), func() { e.orch.HandleReferenceBearing(degrees) })
}

func (e *Engine) HandleReferencePoint(rp model.ReferencePoint) error {
	return e.post(context.Background(), func() { e.orch.HandleReferencePoint(rp) })
}

func (e *Engine) HandleCorrespondence(c model.Correspondence) error {
	return e.post(context.Background(), func() { e.orch.HandleCorrespondence(c) })
}

func (e *Engine) HandleTap(t model.Tap) error {
	return e.post(context.Background(), func() { e.orch.HandleTap(t) })
}

func (e *Engine) HandleMarkerMove(mv model.MarkerMove) error {
	return e.post(context.Background(), func() { e.orch.HandleMarkerMove(mv) })
}

func (e *Engine) HandleViewerPose(p model.Pose) error {
	return e.post(context.Background(), func() { e.orch.HandleViewerPose(p) })
}
