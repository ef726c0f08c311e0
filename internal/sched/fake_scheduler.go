package sched

import (
	"sync"
	"time"
)

// FakeEventScheduler keeps its own notion of time that tests move with
// AdvanceTo / Advance. Due callbacks run synchronously inside those calls,
// which makes timeout behaviour deterministic in unit tests.
type FakeEventScheduler struct {
	nowMu sync.Mutex
	now   time.Time
	queue
}

var _ EventScheduler = (*FakeEventScheduler)(nil)

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		queue: queue{prefix: "fake-ev"},
	}
}

// Now returns the fake time.
func (s *FakeEventScheduler) Now() time.Time {
	s.nowMu.Lock()
	defer s.nowMu.Unlock()
	return s.now
}

// Schedule registers a callback at the given time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) string { return s.schedule(at, f) }

// After registers a callback d after the fake now.
func (s *FakeEventScheduler) After(d time.Duration, f func()) string {
	return s.schedule(s.Now().Add(d), f)
}

// Cancel drops a pending callback.
func (s *FakeEventScheduler) Cancel(id string) { s.cancel(id) }

// RunDue executes all callbacks due at the fake now.
func (s *FakeEventScheduler) RunDue() { s.runDue(s.Now) }

// Pending returns the number of live callbacks.
func (s *FakeEventScheduler) Pending() int { return s.pending() }

// AdvanceTo moves fake time to t and runs everything due. Time never moves
// backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.nowMu.Lock()
	if t.Before(s.now) {
		s.nowMu.Unlock()
		return
	}
	s.now = t
	s.nowMu.Unlock()

	s.RunDue()
}

// Advance moves fake time forward by d and runs everything due.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
