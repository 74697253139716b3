package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	// ErrInconsistentData means predictions and solution disagree even though
	// they were validated upstream. It signals a bug, never a participant error.
	ErrInconsistentData = errors.New("inconsistent scoring data")
	ErrUnknownMetric    = errors.New("unknown metric")
)
