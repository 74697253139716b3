package admission

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel deny reasons. Match with errors.Is against a Decision's Err.
var (
	ErrStageClosed   = errors.New("submissions are not accepted in the current stage")
	ErrRateLimited   = errors.New("submission rate limit exceeded")
	ErrQuotaExceeded = errors.New("submission quota exhausted")
)

// DenyError is the participant-facing form of a denied Decision.
type DenyError struct {
	Reason      error
	RetryAfter  time.Duration
	MinInterval time.Duration
	MaxQuota    int
}

func (e *DenyError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrRateLimited):
		return fmt.Sprintf("you are exceeding the %d seconds limit between submissions, please try again in %d seconds",
			int(e.MinInterval.Seconds()), int(e.RetryAfter.Seconds()))
	case errors.Is(e.Reason, ErrQuotaExceeded):
		return fmt.Sprintf("you are exceeding the max submissions limit of %d, no more submissions are allowed", e.MaxQuota)
	default:
		return e.Reason.Error()
	}
}

func (e *DenyError) Unwrap() error { return e.Reason }
