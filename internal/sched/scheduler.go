// Package sched runs deferred callbacks against a SimClock. The positioning
// engine uses it for strategy timeouts and availability deadlines; the
// scenario runner uses it to simulate platform callbacks.
package sched

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/parcel-positioning/timectrl"
)

// EventScheduler schedules callbacks to run at specific clock times.
//
// Callbacks never run on their own: the owner of the serialized execution
// context calls RunDue after each time advance, so callbacks execute on that
// context and may safely touch engine state.
type EventScheduler interface {
	// Schedule registers f to run at time at and returns an id that can be
	// passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// After registers f to run d after Now.
	After(d time.Duration, f func()) (id string)

	// Cancel drops a pending callback. Unknown or already-run ids are ignored.
	Cancel(id string)

	// Now returns the scheduler's current time.
	Now() time.Time

	// RunDue executes every callback whose time is <= Now, in time order.
	// Callbacks scheduled by a running callback for a time that is already
	// due run in the same call.
	RunDue()

	// Pending returns the number of callbacks not yet run or cancelled.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	seq       uint64
	f         func()
	cancelled bool
	index     int
}

// eventQueue is a min-heap on (when, seq); seq keeps insertion order stable
// for callbacks scheduled at the same instant.
type eventQueue []*scheduledEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*scheduledEvent)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}

// queue holds the bookkeeping shared by the real and fake schedulers.
type queue struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
	events  eventQueue
	index   map[string]*scheduledEvent
}

func (q *queue) schedule(at time.Time, f func()) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.index == nil {
		q.index = make(map[string]*scheduledEvent)
	}
	q.counter++
	ev := &scheduledEvent{
		id:   fmt.Sprintf("%s-%d", q.prefix, q.counter),
		when: at,
		seq:  q.counter,
		f:    f,
	}
	heap.Push(&q.events, ev)
	q.index[ev.id] = ev
	return ev.id
}

func (q *queue) cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(q.index, id)
	heap.Remove(&q.events, ev.index)
}

func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// popDue removes and returns the earliest callback due at now, or nil.
func (q *queue) popDue(now time.Time) *scheduledEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.events.Len() > 0 {
		ev := q.events[0]
		if ev.when.After(now) {
			return nil
		}
		heap.Pop(&q.events)
		if ev.cancelled {
			continue
		}
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

// runDue executes due callbacks outside the lock so they may schedule or
// cancel further callbacks.
func (q *queue) runDue(now func() time.Time) {
	for {
		ev := q.popDue(now())
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

// eventScheduler is the production EventScheduler backed by a SimClock.
type eventScheduler struct {
	clock timectrl.SimClock
	queue
}

// NewEventScheduler creates a scheduler that reads time from clock. Use a
// timectrl.WallClock in live sessions and a TimeController in replays.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		queue: queue{prefix: "ev"},
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) string { return s.schedule(at, f) }

func (s *eventScheduler) After(d time.Duration, f func()) string {
	return s.schedule(s.clock.Now().Add(d), f)
}

func (s *eventScheduler) Cancel(id string) { s.cancel(id) }

func (s *eventScheduler) Now() time.Time { return s.clock.Now() }

func (s *eventScheduler) RunDue() { s.runDue(s.clock.Now) }

func (s *eventScheduler) Pending() int { return s.pending() }
