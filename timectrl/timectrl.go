package timectrl

import (
	"slices"
	"sync"
	"time"
)

// SimClock is the time source the positioning engine reads. Strategies,
// timeouts and the replay runner depend on this abstraction rather than on
// time.Now, so tests and scenario replays can drive time explicitly.
type SimClock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the clock's time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// WallClock is a SimClock backed by the system clock.
type WallClock struct{}

// Now implements SimClock.
func (WallClock) Now() time.Time { return time.Now() }

// After implements SimClock.
func (WallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances time when started.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// TimeController owns a settable notion of time and notifies registered
// listeners when it moves. Scenario replays step it tick by tick.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	waiters     []waiter
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns how far the controller has moved past StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// After implements SimClock. The channel fires when SetTime, Step or Start
// moves the controller to or past now+d.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		ch <- tc.currentTime
	} else {
		tc.waiters = append(tc.waiters, waiter{at: at, ch: ch})
	}
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked every time the controller moves.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// SetTime moves the controller to t and notifies listeners. Moving backwards
// is ignored so time observed by the engine stays monotonic.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	if t.Before(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	tc.currentTime = t
	due := tc.releaseDueLocked(t)
	listeners := slices.Clone(tc.listeners)
	tc.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
	for _, fn := range listeners {
		fn(t)
	}
}

// Step advances the controller by one Tick and returns the new time.
func (tc *TimeController) Step() time.Time {
	next := tc.Now().Add(tc.Tick)
	tc.SetTime(next)
	return next
}

func (tc *TimeController) releaseDueLocked(now time.Time) []waiter {
	var due []waiter
	kept := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !w.at.After(now) {
			due = append(due, w)
			continue
		}
		kept = append(kept, w)
	}
	tc.waiters = kept
	return due
}

// Start runs the controller for the specified duration in a separate
// goroutine, stepping by Tick. In RealTime mode each step waits for a
// wall-clock tick; in Accelerated mode steps run back to back. The returned
// channel is closed when the run finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.SetTime(tc.StartTime)

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
			if ticker != nil {
				<-ticker.C
			}
			tc.Step()
		}
	}()
	return done
}
