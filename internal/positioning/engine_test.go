package positioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
	"github.com/signalsfoundry/parcel-positioning/timectrl"
)

type runningEngine struct {
	eng    *Engine
	clock  *timectrl.TimeController
	cancel context.CancelFunc
	errc   chan error
}

func startEngine(t *testing.T, p *fakePlatform) *runningEngine {
	t.Helper()
	clock := timectrl.NewTimeController(testStart, time.Second, timectrl.Accelerated)
	eng, err := NewEngine(EngineOptions{
		Options: Options{
			Config:    DefaultConfig(),
			Scheduler: sched.NewEventScheduler(clock),
			Platform:  p,
			Anchors:   p,
		},
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &runningEngine{eng: eng, clock: clock, cancel: cancel, errc: make(chan error, 1)}
	go func() { r.errc <- eng.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func (r *runningEngine) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errc:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
	}
}

// waitFor reads events until one of type want arrives.
func waitFor(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestEngine_PositionsFromConcurrentInput(t *testing.T) {
	r := startEngine(t, newFakePlatform(SensorGeoTracking))
	ctx := context.Background()

	if err := r.eng.Submit(ctx, wellingtonParcel()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.eng.HandleViewerPose(model.Pose{Yaw: float64(i) / 10})
			_ = r.eng.HandleLocation(model.LocationFix{HorizontalAccuracy: 5})
		}(i)
	}
	wg.Wait()
	if err := r.eng.HandleSurface(model.SurfaceEvent{ID: "floor", Area: 1, Normal: model.Up}); err != nil {
		t.Fatalf("HandleSurface: %v", err)
	}

	ev := waitFor(t, r.eng.Events(), EventPositioned)
	if ev.Kind != KindPlaneDetection || !ev.Transform.IsFinite() {
		t.Fatalf("positioned event = %v", ev)
	}
	snap, err := r.eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Initialized || snap.State != StatePositioned {
		t.Fatalf("snapshot = %+v, want positioned", snap)
	}
	r.stop(t)
}

func TestEngine_DeadlinesFollowTheClock(t *testing.T) {
	r := startEngine(t, newFakePlatform(SensorGeoTracking))
	ctx := context.Background()

	if err := r.eng.Submit(ctx, wellingtonParcel()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ev := waitFor(t, r.eng.Events(), EventMethodChanged); ev.Kind != KindGeoAnchor {
		t.Fatalf("first method = %s", ev.Kind)
	}
	if ev := waitFor(t, r.eng.Events(), EventMethodChanged); ev.Kind != KindPlaneDetection {
		t.Fatalf("second method = %s", ev.Kind)
	}

	r.clock.SetTime(testStart.Add(10 * time.Second))
	ev := waitFor(t, r.eng.Events(), EventMethodChanged)
	if ev.Kind != KindVisualMarker {
		t.Fatalf("after plane deadline method = %s, want visual_marker", ev.Kind)
	}
	if !ev.At.Equal(testStart.Add(10 * time.Second)) {
		t.Fatalf("event time = %v, want simulated clock", ev.At)
	}
	r.stop(t)
}

func TestEngine_SubmitReportsUnusableBoundary(t *testing.T) {
	r := startEngine(t, newFakePlatform())
	err := r.eng.Submit(context.Background(), model.BoundarySet{{{Latitude: 1, Longitude: 1}}})
	if !errors.Is(err, ErrNoUsableBoundary) {
		t.Fatalf("Submit err = %v, want ErrNoUsableBoundary", err)
	}
	r.stop(t)
}

func TestEngine_StoppedEngineRejectsInput(t *testing.T) {
	r := startEngine(t, newFakePlatform())
	r.stop(t)

	if err := r.eng.HandleTap(model.Tap{}); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("HandleTap after stop err = %v", err)
	}
	if _, err := r.eng.Snapshot(context.Background()); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("Snapshot after stop err = %v", err)
	}
	if _, ok := <-r.eng.Events(); ok {
		t.Fatalf("event channel still open after stop")
	}
}

func TestEngine_SlowConsumerKeepsLatestPlacement(t *testing.T) {
	p := newFakePlatform(SensorGeoTracking, SensorPlaneDetection, SensorFrameAnalysis)
	clock := timectrl.NewTimeController(testStart, time.Second, timectrl.Accelerated)
	eng, err := NewEngine(EngineOptions{
		Options: Options{
			Config:    DefaultConfig(),
			Scheduler: sched.NewEventScheduler(clock),
			Platform:  p,
			Anchors:   p,
		},
		PollInterval: 5 * time.Millisecond,
		MaxPending:   16,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	if err := eng.HandleReferenceBearing(90); err != nil {
		t.Fatalf("HandleReferenceBearing: %v", err)
	}
	if err := eng.Submit(ctx, wellingtonParcel()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Nobody reads Events() while the compass swings back and forth, with a
	// coarse reading between each placement.
	for i := 0; i < 400; i++ {
		_ = eng.HandleHeading(model.HeadingUpdate{MagneticHeading: float64(i%2) * 90, Accuracy: 40})
		_ = eng.HandleHeading(model.HeadingUpdate{MagneticHeading: float64(i%2) * 90, Accuracy: 5})
	}
	pending, err := call(ctx, eng, func() int { return len(eng.pending) })
	if err != nil {
		t.Fatalf("reading pending: %v", err)
	}
	if pending > 16 {
		t.Fatalf("pending events = %d, want at most 16", pending)
	}
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var got []Event
	for done := false; !done; {
		select {
		case ev := <-eng.Events():
			got = append(got, ev)
		case <-time.After(100 * time.Millisecond):
			done = true
		}
	}
	var methods []Kind
	var last Event
	for _, ev := range got {
		switch ev.Type {
		case EventMethodChanged:
			methods = append(methods, ev.Kind)
		case EventPositioned:
			last = ev
		}
	}
	if want := []Kind{KindGeoAnchor, KindPlaneDetection, KindVisualMarker, KindCompassBearing}; !kindsEqual(methods, want) {
		t.Fatalf("methods = %v, want every method change kept", methods)
	}
	if last.Type != EventPositioned || last.Transform != snap.Transform {
		t.Fatalf("last placement = %v, want the current transform %s", last, snap.Transform)
	}
}
