package positioning

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/parcel-positioning/model"
)

type countingFrameMetrics struct {
	analyzed, dropped atomic.Int64
}

func (m *countingFrameMetrics) FrameAnalyzed() { m.analyzed.Add(1) }
func (m *countingFrameMetrics) FrameDropped()  { m.dropped.Add(1) }

// offerUntilAccepted retries until the worker goroutine is parked on the
// handoff.
func offerUntilAccepted(t *testing.T, a *FrameAnalyzer, f Frame) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !a.Offer(f) {
		if time.Now().After(deadline) {
			t.Fatalf("frame %d never accepted", f.Seq)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFrameAnalyzer_DropsWithoutWorker(t *testing.T) {
	metrics := &countingFrameMetrics{}
	a := NewFrameAnalyzer(DetectorFunc(func(context.Context, Frame) ([]model.MarkerDetection, error) {
		return nil, nil
	}), func(model.MarkerDetection) error { return nil }, 0, metrics, nil)

	if a.Offer(Frame{Seq: 1, Timestamp: testStart}) {
		t.Fatalf("frame accepted with no worker running")
	}
	if accepted, dropped := a.Stats(); accepted != 0 || dropped != 1 || metrics.dropped.Load() != 1 {
		t.Fatalf("stats accepted=%d dropped=%d metrics=%d", accepted, dropped, metrics.dropped.Load())
	}
}

func TestFrameAnalyzer_DropsWhileBusyAndThrottles(t *testing.T) {
	release := make(chan struct{})
	got := make(chan model.MarkerDetection, 4)
	metrics := &countingFrameMetrics{}
	detector := DetectorFunc(func(ctx context.Context, f Frame) ([]model.MarkerDetection, error) {
		<-release
		return []model.MarkerDetection{{MarkerID: "m1", Confidence: 0.9}}, nil
	})
	a := NewFrameAnalyzer(detector, func(d model.MarkerDetection) error {
		got <- d
		return nil
	}, 200*time.Millisecond, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	offerUntilAccepted(t, a, Frame{Seq: 1, Timestamp: testStart})
	_, before := a.Stats()

	if a.Offer(Frame{Seq: 2, Timestamp: testStart.Add(100 * time.Millisecond)}) {
		t.Fatalf("frame inside the minimum interval accepted")
	}
	if a.Offer(Frame{Seq: 3, Timestamp: testStart.Add(time.Second)}) {
		t.Fatalf("frame accepted while the detector is busy")
	}
	if _, after := a.Stats(); after-before != 2 {
		t.Fatalf("dropped %d frames, want 2", after-before)
	}

	close(release)
	select {
	case d := <-got:
		if d.MarkerID != "m1" || !d.Timestamp.Equal(testStart) {
			t.Fatalf("delivered %+v, want m1 stamped with the frame time", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("detection not delivered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if metrics.analyzed.Load() != 1 {
		t.Fatalf("analyzed = %d, want 1", metrics.analyzed.Load())
	}
}

func TestFrameAnalyzer_StopsWhenDeliveryFails(t *testing.T) {
	a := NewFrameAnalyzer(DetectorFunc(func(context.Context, Frame) ([]model.MarkerDetection, error) {
		return []model.MarkerDetection{{MarkerID: "m1"}}, nil
	}), func(model.MarkerDetection) error { return ErrEngineStopped }, 0, nil, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	offerUntilAccepted(t, a, Frame{Seq: 1, Timestamp: testStart})

	select {
	case err := <-done:
		if !errors.Is(err, ErrEngineStopped) {
			t.Fatalf("Run err = %v, want ErrEngineStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after delivery failure")
	}
}

func TestFrameAnalyzer_SkipsDetectorErrors(t *testing.T) {
	calls := make(chan struct{}, 4)
	got := make(chan model.MarkerDetection, 1)
	var n atomic.Int32
	a := NewFrameAnalyzer(DetectorFunc(func(context.Context, Frame) ([]model.MarkerDetection, error) {
		defer func() { calls <- struct{}{} }()
		if n.Add(1) == 1 {
			return nil, errors.New("blurred frame")
		}
		return []model.MarkerDetection{{MarkerID: "m2", Timestamp: testStart.Add(time.Hour)}}, nil
	}), func(d model.MarkerDetection) error {
		got <- d
		return nil
	}, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	offerUntilAccepted(t, a, Frame{Seq: 1, Timestamp: testStart})
	<-calls
	offerUntilAccepted(t, a, Frame{Seq: 2, Timestamp: testStart.Add(time.Second)})

	select {
	case d := <-got:
		if d.MarkerID != "m2" || !d.Timestamp.Equal(testStart.Add(time.Hour)) {
			t.Fatalf("delivered %+v; detector timestamps must be kept", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker stopped after a detector error")
	}
}
