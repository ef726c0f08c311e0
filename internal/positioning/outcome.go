package positioning

import "time"

// OutcomeType tags a StrategyOutcome.
type OutcomeType int

const (
	// OutcomeNone is the zero value: the event did not change anything.
	OutcomeNone OutcomeType = iota
	OutcomePending
	OutcomeNeedsUserInput
	OutcomePositioned
	OutcomeFailed
)

func (t OutcomeType) String() string {
	switch t {
	case OutcomeNone:
		return "none"
	case OutcomePending:
		return "pending"
	case OutcomeNeedsUserInput:
		return "needs_input"
	case OutcomePositioned:
		return "positioned"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is what a strategy reports after activation or after handling an
// event. It drives every orchestrator transition.
type Outcome struct {
	Type      OutcomeType
	Message   string
	Transform PlacementTransform
	Err       error

	// disarm cancels the strategy's deadline while staying pending.
	disarm bool
	// rearm replaces the strategy's deadline with a new one from now.
	rearm time.Duration
}

// Pending reports progress without changing the cascade.
func Pending(status string) Outcome {
	return Outcome{Type: OutcomePending, Message: status}
}

// NeedsUserInput parks the cascade on the current strategy.
func NeedsUserInput(message string) Outcome {
	return Outcome{Type: OutcomeNeedsUserInput, Message: message}
}

// Positioned halts the cascade with a placement.
func Positioned(t PlacementTransform) Outcome {
	return Outcome{Type: OutcomePositioned, Transform: t}
}

// Failed advances the cascade.
func Failed(reason error) Outcome {
	return Outcome{Type: OutcomeFailed, Err: reason}
}

// WithoutDeadline returns a copy that also cancels the pending timeout.
func (o Outcome) WithoutDeadline() Outcome {
	o.disarm = true
	return o
}

// WithDeadline returns a copy that restarts the timeout at d from now.
func (o Outcome) WithDeadline(d time.Duration) Outcome {
	o.rearm = d
	return o
}

// IsZero reports whether the outcome changes nothing.
func (o Outcome) IsZero() bool { return o.Type == OutcomeNone }
