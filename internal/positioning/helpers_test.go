package positioning

import (
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// fakePlatform records sensor and anchor calls. Sensors listed in missing
// report ErrSensorUnavailable.
type fakePlatform struct {
	missing map[SensorKind]bool
	running map[SensorKind]bool
	started []SensorKind

	availabilityTokens []string
	anchorTokens       []string
	removedTokens      []string
}

func newFakePlatform(missing ...SensorKind) *fakePlatform {
	p := &fakePlatform{
		missing: make(map[SensorKind]bool),
		running: make(map[SensorKind]bool),
	}
	for _, k := range missing {
		p.missing[k] = true
	}
	return p
}

func (p *fakePlatform) StartSensor(kind SensorKind) error {
	if p.missing[kind] {
		return fmt.Errorf("%s: %w", kind, ErrSensorUnavailable)
	}
	p.running[kind] = true
	p.started = append(p.started, kind)
	return nil
}

func (p *fakePlatform) StopSensor(kind SensorKind) { delete(p.running, kind) }

func (p *fakePlatform) RequestAvailability(token string, _ model.Coordinate) error {
	p.availabilityTokens = append(p.availabilityTokens, token)
	return nil
}

func (p *fakePlatform) AddAnchor(token string, _ model.Coordinate, _ float64) error {
	p.anchorTokens = append(p.anchorTokens, token)
	return nil
}

func (p *fakePlatform) RemoveAnchors(token string) {
	p.removedTokens = append(p.removedTokens, token)
}

func (p *fakePlatform) lastToken(t *testing.T) string {
	t.Helper()
	if len(p.availabilityTokens) == 0 {
		t.Fatalf("no availability request issued")
	}
	return p.availabilityTokens[len(p.availabilityTokens)-1]
}

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	orch     *Orchestrator
	sched    *sched.FakeEventScheduler
	platform *fakePlatform
	events   *EventLog
}

func newHarness(t *testing.T, cfg Config, platform *fakePlatform) *harness {
	t.Helper()
	h := &harness{
		sched:    sched.NewFakeEventScheduler(testStart),
		platform: platform,
		events:   &EventLog{},
	}
	orch, err := NewOrchestrator(Options{
		Config:    cfg,
		Scheduler: h.sched,
		Platform:  platform,
		Anchors:   platform,
		Sink:      h.events,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch = orch
	return h
}

// advance moves fake time to start+d. Due callbacks run synchronously, which
// stands in for the engine loop.
func (h *harness) advance(d time.Duration) {
	h.sched.AdvanceTo(testStart.Add(d))
}

func (h *harness) methods() []Kind {
	var out []Kind
	for _, e := range h.events.Events() {
		if e.Type == EventMethodChanged {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (h *harness) submit(t *testing.T, set model.BoundarySet) {
	t.Helper()
	if err := h.orch.Submit(set); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

// wellingtonParcel is a ~20 m square around (-41.300, 174.780).
func wellingtonParcel() model.BoundarySet {
	return model.BoundarySet{squareRing(-41.300, 174.780, 0.0001)}
}

func squareRing(lat, lon, half float64) model.BoundaryRing {
	return model.BoundaryRing{
		{Latitude: lat - half, Longitude: lon - half},
		{Latitude: lat - half, Longitude: lon + half},
		{Latitude: lat + half, Longitude: lon + half},
		{Latitude: lat + half, Longitude: lon - half},
	}
}

func kindsEqual(a, b []Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func approx(a, b, tol float64) bool {
	d := a - b
	return d <= tol && d >= -tol
}

func vecApprox(a, b model.Vec3, tol float64) bool {
	return a.DistanceTo(b) <= tol
}
