package selection

import "errors"

var (
	// ErrTooManySelections is returned when more ids are requested than the
	// final board accepts.
	ErrTooManySelections = errors.New("too many submissions selected")
)
