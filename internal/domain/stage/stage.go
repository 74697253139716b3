// Package stage answers which lifecycle phase the competition is in.
//
// A Schedule is immutable and every query takes the current time explicitly,
// so the answer is recomputed on each call and never cached.
package stage

import (
	"fmt"
	"time"
)

// Stage is the temporal phase of the competition.
type Stage int

const (
	Ready Stage = iota
	Open
	Closed
	Terminated
)

// String returns the upper-case stage name used in logs, dumps and responses.
func (s Stage) String() string {
	switch s {
	case Ready:
		return "READY"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Schedule holds the three ordered competition boundaries.
type Schedule struct {
	open      time.Time
	close     time.Time
	terminate time.Time
}

// NewSchedule validates open <= close <= terminate.
func NewSchedule(openAt, closeAt, terminateAt time.Time) (Schedule, error) {
	if openAt.After(closeAt) || closeAt.After(terminateAt) {
		return Schedule{}, fmt.Errorf("%w: open=%s close=%s terminate=%s",
			ErrScheduleOrderInvalid,
			openAt.Format(time.RFC3339), closeAt.Format(time.RFC3339), terminateAt.Format(time.RFC3339))
	}
	return Schedule{open: openAt, close: closeAt, terminate: terminateAt}, nil
}

// OpenTime returns the instant submissions open.
func (s Schedule) OpenTime() time.Time { return s.open }

// CloseTime returns the instant the competitive window closes.
func (s Schedule) CloseTime() time.Time { return s.close }

// TerminateTime returns the instant the competition is over.
func (s Schedule) TerminateTime() time.Time { return s.terminate }

// Stage returns the phase at now. An instant equal to a boundary belongs to
// the later stage.
func (s Schedule) Stage(now time.Time) Stage {
	switch {
	case now.Before(s.open):
		return Ready
	case now.Before(s.close):
		return Open
	case now.Before(s.terminate):
		return Closed
	default:
		return Terminated
	}
}

// CanSubmit reports whether non-privileged uploads are accepted at now.
// CLOSED still accepts uploads; those never count towards the final board.
func (s Schedule) CanSubmit(now time.Time) bool {
	st := s.Stage(now)
	return st == Open || st == Closed
}
