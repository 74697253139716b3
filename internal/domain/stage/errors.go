package stage

import "errors"

// Sentinel kinds for schedule errors.
var (
	ErrScheduleOrderInvalid = errors.New("competition dates order is wrong")
)
