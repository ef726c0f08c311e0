package scenario

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
	"github.com/signalsfoundry/parcel-positioning/internal/sched"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// AnchorHandler receives simulated geo-anchoring answers.
type AnchorHandler interface {
	HandleAnchorAvailability(model.AnchorAvailability)
	HandleAnchorResolved(model.AnchorResolved)
}

// SimPlatform implements positioning.Platform and positioning.AnchorService
// from a PlatformSpec. Answers are scheduled on the same EventScheduler the
// orchestrator uses, so they arrive on its serialized context.
type SimPlatform struct {
	spec    PlatformSpec
	sched   sched.EventScheduler
	missing map[positioning.SensorKind]bool

	mu      sync.Mutex
	handler AnchorHandler
	running map[positioning.SensorKind]bool
	pending map[string][]string // token -> scheduled callback ids
	starts  map[positioning.SensorKind]int
}

// NewSimPlatform builds a platform; Bind must be called before the first
// availability request is answered.
func NewSimPlatform(spec PlatformSpec, s sched.EventScheduler) *SimPlatform {
	p := &SimPlatform{
		spec:    spec,
		sched:   s,
		missing: make(map[positioning.SensorKind]bool),
		running: make(map[positioning.SensorKind]bool),
		pending: make(map[string][]string),
		starts:  make(map[positioning.SensorKind]int),
	}
	for _, k := range spec.Missing {
		p.missing[k] = true
	}
	return p
}

// Bind sets where anchor answers go.
func (p *SimPlatform) Bind(h AnchorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *SimPlatform) StartSensor(kind positioning.SensorKind) error {
	if p.missing[kind] {
		return fmt.Errorf("simulated device has no %s: %w", kind, positioning.ErrSensorUnavailable)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[kind] = true
	p.starts[kind]++
	return nil
}

func (p *SimPlatform) StopSensor(kind positioning.SensorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, kind)
}

// Running reports whether kind is currently started.
func (p *SimPlatform) Running(kind positioning.SensorKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[kind]
}

// Starts returns how many times kind was started.
func (p *SimPlatform) Starts(kind positioning.SensorKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts[kind]
}

func (p *SimPlatform) RequestAvailability(token string, _ model.Coordinate) error {
	if p.missing[positioning.SensorGeoTracking] {
		return fmt.Errorf("geo anchoring: %w", positioning.ErrSensorUnavailable)
	}
	if p.spec.AvailabilityDelay < 0 {
		return nil
	}
	supported := p.spec.GeoCoverage
	p.later(token, p.spec.AvailabilityDelay, func(h AnchorHandler) {
		h.HandleAnchorAvailability(model.AnchorAvailability{Token: token, Supported: supported})
	})
	return nil
}

func (p *SimPlatform) AddAnchor(token string, _ model.Coordinate, _ float64) error {
	if p.spec.AnchorResolveDelay < 0 {
		return nil
	}
	pose := p.spec.AnchorPose
	p.later(token, p.spec.AnchorResolveDelay, func(h AnchorHandler) {
		h.HandleAnchorResolved(model.AnchorResolved{Token: token, AnchorID: token + "/anchor", Pose: pose})
	})
	return nil
}

// RemoveAnchors cancels every answer still pending for token.
func (p *SimPlatform) RemoveAnchors(token string) {
	p.mu.Lock()
	ids := p.pending[token]
	delete(p.pending, token)
	p.mu.Unlock()
	for _, id := range ids {
		p.sched.Cancel(id)
	}
}

func (p *SimPlatform) later(token string, after time.Duration, deliver func(AnchorHandler)) {
	var id string
	id = p.sched.After(after, func() {
		p.mu.Lock()
		h := p.handler
		p.forgetLocked(token, id)
		p.mu.Unlock()
		if h != nil {
			deliver(h)
		}
	})
	p.mu.Lock()
	p.pending[token] = append(p.pending[token], id)
	p.mu.Unlock()
}

func (p *SimPlatform) forgetLocked(token, id string) {
	ids := p.pending[token]
	for i, v := range ids {
		if v == id {
			p.pending[token] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(p.pending[token]) == 0 {
		delete(p.pending, token)
	}
}
