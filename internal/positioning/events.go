package positioning

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/parcel-positioning/core"
)

// EventType tags an orchestrator output event.
type EventType int

const (
	EventStatusChanged EventType = iota
	EventMethodChanged
	EventPositioned
	EventNeedsUserInput
)

func (t EventType) String() string {
	switch t {
	case EventStatusChanged:
		return "status_changed"
	case EventMethodChanged:
		return "method_changed"
	case EventPositioned:
		return "positioned"
	case EventNeedsUserInput:
		return "needs_user_input"
	default:
		return "unknown"
	}
}

// Event is delivered to the renderer in production order. Positioned events
// carry the transform and the fragment it applies to.
type Event struct {
	Type      EventType
	SessionID string
	At        time.Time
	Kind      Kind
	Message   string
	Transform PlacementTransform
	Fragment  core.GeometryFragment
}

func (e Event) String() string {
	switch e.Type {
	case EventMethodChanged:
		return fmt.Sprintf("%s(%s)", e.Type, e.Kind)
	case EventPositioned:
		return fmt.Sprintf("%s(%s, %s)", e.Type, e.Kind, e.Transform)
	default:
		return fmt.Sprintf("%s(%q)", e.Type, e.Message)
	}
}

// EventSink consumes orchestrator output. Emit is called on the
// orchestrator's serialized context and must not call back into it.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(e Event) { f(e) }

// EventLog is an EventSink that keeps every event, for replays and tests.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventSink.
func (l *EventLog) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of everything recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Types returns the recorded event types in order.
func (l *EventLog) Types() []EventType {
	events := l.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Last returns the most recent event of type t.
func (l *EventLog) Last(t EventType) (Event, bool) {
	events := l.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return Event{}, false
}

// Count returns how many events of type t were recorded.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// MetricsRecorder receives orchestrator measurements. The Prometheus
// collector in internal/observability implements it.
type MetricsRecorder interface {
	SessionStarted()
	SessionSuperseded()
	StrategyActivated(strategy string, priority int)
	StrategyFinished(strategy, result string)
	Positioned(strategy string, elapsed time.Duration)
	Idle()
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                  {}
func (noopMetrics) SessionSuperseded()               {}
func (noopMetrics) StrategyActivated(string, int)    {}
func (noopMetrics) StrategyFinished(string, string)  {}
func (noopMetrics) Positioned(string, time.Duration) {}
func (noopMetrics) Idle()                            {}
