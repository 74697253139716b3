package service

import "errors"

var (
	// ErrDuplicateSubmission is returned when an idempotency key was already used.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrLeaderboardUnavailable is returned for the live board before the competition opens.
	ErrLeaderboardUnavailable = errors.New("leaderboard is not available yet")
	// ErrForbidden is returned when the caller's role may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)

// DuplicateError carries the id of the submission an idempotency key
// already produced. SubmissionID is zero while that attempt is in flight.
type DuplicateError struct {
	SubmissionID int64
}

func (e *DuplicateError) Error() string {
	if e.SubmissionID == 0 {
		return "a submission with this idempotency key is in progress"
	}
	return "this idempotency key already produced a submission"
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateSubmission }
