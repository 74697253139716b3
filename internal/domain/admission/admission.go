// Package admission decides whether a participant may submit right now.
//
// The controller is a pure decision function over the stage clock, the
// participant's history and the configured limits. It never writes: the
// storage layer evaluates it inside the same per-participant critical section
// that appends the submission, so two concurrent attempts cannot both take
// the last free slot.
package admission

import (
	"time"

	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/internal/domain/stage"
)

const (
	defaultMinInterval = 5 * time.Minute
	defaultMaxQuota    = 100

	// minRetryAfter avoids telling participants to retry in zero seconds.
	minRetryAfter = 5 * time.Second
)

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted   bool
	Reason     error // one of ErrStageClosed, ErrRateLimited, ErrQuotaExceeded
	RetryAfter time.Duration
}

// Controller evaluates admission rules.
type Controller struct {
	schedule    stage.Schedule
	minInterval time.Duration
	maxQuota    int
}

// New creates a Controller for schedule.
func New(schedule stage.Schedule, opts ...Option) *Controller {
	c := &Controller{
		schedule:    schedule,
		minInterval: defaultMinInterval,
		maxQuota:    defaultMaxQuota,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MinInterval returns the configured spacing between submissions.
func (c *Controller) MinInterval() time.Duration { return c.minInterval }

// MaxQuota returns the configured per-participant submission cap.
func (c *Controller) MaxQuota() int { return c.maxQuota }

// TryAdmit applies the admission rules in order: privileged roles, stage,
// rate limit, quota.
func (c *Controller) TryAdmit(p model.Participant, now time.Time, h model.History) Decision {
	if p.Role.Privileged() {
		return Decision{Admitted: true}
	}
	if !c.schedule.CanSubmit(now) {
		return Decision{Reason: ErrStageClosed}
	}
	if h.HasLast() {
		elapsed := now.Sub(h.Last)
		if elapsed < c.minInterval {
			wait := (c.minInterval - elapsed).Truncate(time.Second)
			if wait < minRetryAfter {
				wait = minRetryAfter
			}
			return Decision{Reason: ErrRateLimited, RetryAfter: wait}
		}
	}
	if h.Count >= c.maxQuota {
		return Decision{Reason: ErrQuotaExceeded}
	}
	return Decision{Admitted: true}
}

// Err converts d to an error; nil when admitted.
func (c *Controller) Err(d Decision) error {
	if d.Admitted {
		return nil
	}
	return &DenyError{
		Reason:      d.Reason,
		RetryAfter:  d.RetryAfter,
		MinInterval: c.minInterval,
		MaxQuota:    c.maxQuota,
	}
}

// Remaining returns how many submissions a participant with count prior
// submissions has left. Privileged roles are unlimited and report -1.
func (c *Controller) Remaining(p model.Participant, count int) int {
	if p.Role.Privileged() {
		return -1
	}
	if left := c.maxQuota - count; left > 0 {
		return left
	}
	return 0
}
