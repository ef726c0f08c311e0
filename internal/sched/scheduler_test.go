package sched

import (
	"testing"
	"time"

	"github.com/signalsfoundry/parcel-positioning/timectrl"
)

func TestEventScheduler_RunsOnlyWhenDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	s := NewEventScheduler(clock)

	var counter int
	id := s.After(10*time.Second, func() { counter++ })
	if id == "" {
		t.Fatalf("After returned empty ID")
	}

	s.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	clock.SetTime(start.Add(10 * time.Second))
	s.RunDue()
	s.RunDue()
	if counter != 1 {
		t.Fatalf("expected exactly one run, got %d", counter)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending() = %d after run, want 0", s.Pending())
	}
}

func TestEventScheduler_OrderAndTies(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	s := NewEventScheduler(clock)

	var order []string
	at := start.Add(5 * time.Second)
	s.Schedule(start.Add(7*time.Second), func() { order = append(order, "late") })
	s.Schedule(at, func() { order = append(order, "first") })
	s.Schedule(at, func() { order = append(order, "second") })

	clock.SetTime(start.Add(10 * time.Second))
	s.RunDue()

	want := []string{"first", "second", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEventScheduler_Cancel(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	s := NewEventScheduler(clock)

	var ran bool
	id := s.After(time.Second, func() { ran = true })
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel("unknown")

	clock.SetTime(start.Add(time.Minute))
	s.RunDue()
	if ran {
		t.Fatalf("cancelled callback ran")
	}
}

func TestEventScheduler_CallbackSchedulesDueWork(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	s := NewEventScheduler(clock)

	var order []string
	s.After(time.Second, func() {
		order = append(order, "outer")
		s.After(0, func() { order = append(order, "inner") })
		s.After(time.Hour, func() { order = append(order, "future") })
	})

	clock.SetTime(start.Add(2 * time.Second))
	s.RunDue()
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("order = %v, want [outer inner]", order)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want the future callback only", s.Pending())
	}
}
