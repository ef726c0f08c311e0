package positioning

import "errors"

// Error taxonomy for strategy outcomes. Strategies wrap these with context via
// fmt.Errorf("...: %w", Err...); callers match with errors.Is.
var (
	// ErrSensorUnavailable means the device or location cannot support the
	// strategy. It is never retried within a session.
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrAccuracyInsufficient is advisory; the strategy stays active.
	ErrAccuracyInsufficient = errors.New("sensor accuracy insufficient")
	// ErrTimeout means the strategy's deadline passed without a placement.
	ErrTimeout = errors.New("strategy timed out")
	// ErrUserInputRequired marks a strategy that cannot proceed without input.
	ErrUserInputRequired = errors.New("user input required")
	// ErrDegenerateGeometry means a transform solve was given near-coincident
	// reference points.
	ErrDegenerateGeometry = errors.New("degenerate reference geometry")
	// ErrSessionSuperseded means a newer boundary set replaced the session.
	ErrSessionSuperseded = errors.New("session superseded")
	// ErrSkipped means the caller explicitly moved past a resting strategy.
	ErrSkipped = errors.New("strategy skipped")
	// ErrNoUsableBoundary rejects a submission without any ring of two or
	// more valid coordinates.
	ErrNoUsableBoundary = errors.New("no usable boundary ring")
)
