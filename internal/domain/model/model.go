// Package model contains domain models passed between layers.
package model

import "time"

// Role is the privilege level of a participant. It is resolved once when the
// caller is authenticated and carried explicitly from there on.
type Role int

const (
	// RoleRegular is an ordinary competitor subject to stage, rate and quota gating.
	RoleRegular Role = iota
	// RoleAdministrator bypasses all gating and may view every leaderboard.
	RoleAdministrator
	// RoleBaseline bypasses gating and represents a reference score.
	RoleBaseline
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdministrator:
		return "administrator"
	case RoleBaseline:
		return "baseline"
	default:
		return "regular"
	}
}

// Privileged reports whether the role skips admission checks.
func (r Role) Privileged() bool {
	return r == RoleAdministrator || r == RoleBaseline
}

// Participant is an authenticated caller.
type Participant struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the participant is the administrator.
func (p Participant) IsAdmin() bool { return p.Role == RoleAdministrator }

// Submission is an accepted upload. It never changes after creation.
type Submission struct {
	ID          int64
	UserID      string
	CreatedAt   time.Time
	ArtifactRef string // where the uploaded file lives
}

// Evaluation holds the scores of exactly one submission.
type Evaluation struct {
	SubmissionID     int64
	PublicScore      float64
	PrivateScore     float64
	EvaluatedAt      time.Time
	SelectedForFinal bool
}

// Record joins a submission with its evaluation, if any.
type Record struct {
	Submission Submission
	Evaluation *Evaluation
}

// History summarizes a participant's submissions for admission decisions.
type History struct {
	Count int
	Last  time.Time // zero when Count == 0
}

// HasLast reports whether the participant submitted before.
func (h History) HasLast() bool { return h.Count > 0 && !h.Last.IsZero() }
