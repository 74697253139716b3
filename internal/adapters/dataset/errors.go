package dataset

import "errors"

// Sentinel kinds for dataset errors. Every participant-facing validation
// failure wraps ErrInvalidSubmission.
var (
	ErrInvalidSolution   = errors.New("invalid solution file")
	ErrInvalidSubmission = errors.New("invalid submission file")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
