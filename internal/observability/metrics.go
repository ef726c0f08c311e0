package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PositioningCollector bundles Prometheus metrics for the positioning engine.
// It satisfies positioning.MetricsRecorder and the frame analyzer's drop
// counter.
type PositioningCollector struct {
	gatherer prometheus.Gatherer

	StrategyActivations *prometheus.CounterVec
	StrategyOutcomes    *prometheus.CounterVec
	TimeToPosition      *prometheus.HistogramVec
	ActiveStrategy      prometheus.Gauge
	Sessions            prometheus.Counter
	SessionsSuperseded  prometheus.Counter
	FramesAnalyzed      prometheus.Counter
	FramesDropped       prometheus.Counter
}

// NewPositioningCollector registers positioning metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing collectors.
func NewPositioningCollector(reg prometheus.Registerer) (*PositioningCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	activations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_strategy_activations_total",
		Help: "Number of positioning strategy activations, labeled by strategy.",
	}, []string{"strategy"}), "parcel_strategy_activations_total")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_strategy_outcomes_total",
		Help: "Terminal or resting strategy outcomes, labeled by strategy and result.",
	}, []string{"strategy", "result"}), "parcel_strategy_outcomes_total")
	if err != nil {
		return nil, err
	}

	ttp, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcel_time_to_position_seconds",
		Help:    "Time from boundary submission to the first placement transform.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"strategy"}), "parcel_time_to_position_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parcel_active_strategy",
		Help: "Priority of the currently active strategy (1 = geo anchor, 5 = manual), 0 when idle.",
	}), "parcel_active_strategy")
	if err != nil {
		return nil, err
	}

	sessions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_sessions_total",
		Help: "Positioning sessions started for a new boundary set.",
	}), "parcel_sessions_total")
	if err != nil {
		return nil, err
	}

	superseded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_sessions_superseded_total",
		Help: "Sessions cancelled because a materially different boundary set arrived.",
	}), "parcel_sessions_superseded_total")
	if err != nil {
		return nil, err
	}

	analyzed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_frames_analyzed_total",
		Help: "Camera frames run through marker detection.",
	}), "parcel_frames_analyzed_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcel_frames_dropped_total",
		Help: "Camera frames dropped because the analyzer was busy or throttled.",
	}), "parcel_frames_dropped_total")
	if err != nil {
		return nil, err
	}

	return &PositioningCollector{
		gatherer:            gatherer,
		StrategyActivations: activations,
		StrategyOutcomes:    outcomes,
		TimeToPosition:      ttp,
		ActiveStrategy:      active,
		Sessions:            sessions,
		SessionsSuperseded:  superseded,
		FramesAnalyzed:      analyzed,
		FramesDropped:       dropped,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PositioningCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PositioningCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StrategyActivated counts an activation and moves the active gauge.
func (c *PositioningCollector) StrategyActivated(strategy string, priority int) {
	if c == nil {
		return
	}
	c.StrategyActivations.WithLabelValues(strategy).Inc()
	c.ActiveStrategy.Set(float64(priority))
}

// StrategyFinished records the outcome of one strategy attempt.
func (c *PositioningCollector) StrategyFinished(strategy, result string) {
	if c == nil {
		return
	}
	c.StrategyOutcomes.WithLabelValues(strategy, result).Inc()
}

// Positioned observes the time it took a session to reach a placement.
func (c *PositioningCollector) Positioned(strategy string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.TimeToPosition.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// SessionStarted counts a new session.
func (c *PositioningCollector) SessionStarted() {
	if c == nil {
		return
	}
	c.Sessions.Inc()
}

// SessionSuperseded counts a session cancelled by a newer boundary set.
func (c *PositioningCollector) SessionSuperseded() {
	if c == nil {
		return
	}
	c.SessionsSuperseded.Inc()
}

// Idle resets the active strategy gauge.
func (c *PositioningCollector) Idle() {
	if c == nil {
		return
	}
	c.ActiveStrategy.Set(0)
}

// FrameAnalyzed counts a frame that reached the detector.
func (c *PositioningCollector) FrameAnalyzed() {
	if c == nil {
		return
	}
	c.FramesAnalyzed.Inc()
}

// FrameDropped counts a frame discarded by the analyzer.
func (c *PositioningCollector) FrameDropped() {
	if c == nil {
		return
	}
	c.FramesDropped.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
