package positioning

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// Frame is one camera image offered for marker detection.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     []byte
}

// Detector finds markers in a frame. It runs on the analyzer's worker
// goroutine and may be slow.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]model.MarkerDetection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, f Frame) ([]model.MarkerDetection, error)

// Detect implements Detector.
func (fn DetectorFunc) Detect(ctx context.Context, f Frame) ([]model.MarkerDetection, error) {
	return fn(ctx, f)
}

// FrameMetrics counts analyzer throughput.
type FrameMetrics interface {
	FrameAnalyzed()
	FrameDropped()
}

// FrameAnalyzer runs detection on a single worker. Offer never blocks: a frame
// arriving while the worker is busy, or sooner than MinInterval after the
// last accepted frame, is dropped. Stale frames are worthless, so nothing is
// buffered.
type FrameAnalyzer struct {
	detector Detector
	deliver  func(model.MarkerDetection) error
	interval time.Duration
	metrics  FrameMetrics
	log      logging.Logger

	handoff chan Frame

	mu           sync.Mutex
	lastAccepted time.Time
	accepted     uint64
	dropped      uint64
}

// NewFrameAnalyzer wires a detector to deliver, typically Engine.HandleMarker.
func NewFrameAnalyzer(detector Detector, deliver func(model.MarkerDetection) error, minInterval time.Duration, metrics FrameMetrics, log logging.Logger) *FrameAnalyzer {
	if log == nil {
		log = logging.Noop()
	}
	return &FrameAnalyzer{
		detector: detector,
		deliver:  deliver,
		interval: minInterval,
		metrics:  metrics,
		log:      log,
		handoff:  make(chan Frame),
	}
}

// Offer hands f to the worker if it is idle and the cadence allows. It
// reports whether the frame was accepted.
func (a *FrameAnalyzer) Offer(f Frame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastAccepted.IsZero() && f.Timestamp.Sub(a.lastAccepted) < a.interval {
		a.dropLocked()
		return false
	}
	select {
	case a.handoff <- f:
		a.lastAccepted = f.Timestamp
		a.accepted++
		return true
	default:
		a.dropLocked()
		return false
	}
}

func (a *FrameAnalyzer) dropLocked() {
	a.dropped++
	if a.metrics != nil {
		a.metrics.FrameDropped()
	}
}

// Stats returns how many frames were accepted and dropped.
func (a *FrameAnalyzer) Stats() (accepted, dropped uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted, a.dropped
}

// Run is the worker loop. It returns when ctx is cancelled or delivery fails
// because the engine stopped.
func (a *FrameAnalyzer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-a.handoff:
			if a.metrics != nil {
				a.metrics.FrameAnalyzed()
			}
			detections, err := a.detector.Detect(ctx, f)
			if err != nil {
				a.log.Warn(ctx, "marker detection failed", logging.Any("frame", f.Seq), logging.Err(err))
				continue
			}
			for _, d := range detections {
				if d.Timestamp.IsZero() {
					d.Timestamp = f.Timestamp
				}
				if err := a.deliver(d); err != nil {
					return err
				}
			}
		}
	}
}
