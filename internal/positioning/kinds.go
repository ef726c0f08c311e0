package positioning

import (
	"fmt"
	"strings"
)

// Kind identifies a positioning strategy. The numeric value is its priority;
// lower values are tried first.
type Kind int

const (
	KindNone Kind = iota
	KindGeoAnchor
	KindPlaneDetection
	KindVisualMarker
	KindCompassBearing
	KindManualAlignment
)

var kindNames = map[Kind]string{
	KindNone:            "none",
	KindGeoAnchor:       "geo_anchor",
	KindPlaneDetection:  "plane_detection",
	KindVisualMarker:    "visual_marker",
	KindCompassBearing:  "compass_bearing",
	KindManualAlignment: "manual_alignment",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Priority returns the cascade position, 0 for KindNone.
func (k Kind) Priority() int { return int(k) }

// ParseKind accepts the snake_case names used in config and scenario files.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if k != KindNone && name == s {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown positioning strategy %q", s)
}

// AllKinds lists every strategy in priority order.
func AllKinds() []Kind {
	return []Kind{KindGeoAnchor, KindPlaneDetection, KindVisualMarker, KindCompassBearing, KindManualAlignment}
}

// Cascade is the transition table the orchestrator follows on failure. It
// always ends in KindManualAlignment.
type Cascade struct {
	first Kind
	next  map[Kind]Kind
}

// NewCascade builds a cascade over all strategies except those in skip.
// ManualAlignment cannot be skipped.
func NewCascade(skip ...Kind) Cascade {
	skipped := make(map[Kind]bool, len(skip))
	for _, k := range skip {
		if k != KindManualAlignment {
			skipped[k] = true
		}
	}

	c := Cascade{next: make(map[Kind]Kind)}
	prev := KindNone
	for _, k := range AllKinds() {
		if skipped[k] {
			continue
		}
		if prev == KindNone {
			c.first = k
		} else {
			c.next[prev] = k
		}
		prev = k
	}
	return c
}

// First returns the highest-priority enabled strategy.
func (c Cascade) First() Kind { return c.first }

// Next returns the strategy to try after k fails. ok is false for the last
// strategy.
func (c Cascade) Next(k Kind) (Kind, bool) {
	n, ok := c.next[k]
	return n, ok
}

// Kinds returns the enabled strategies in order.
func (c Cascade) Kinds() []Kind {
	var out []Kind
	for k, ok := c.first, c.first != KindNone; ok; k, ok = c.Next(k) {
		out = append(out, k)
	}
	return out
}

// State is the lifecycle of a single strategy instance.
type State int

const (
	StateIdle State = iota
	StateListening
	StatePositioned
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StatePositioned:
		return "positioned"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
