// Package repository stores submissions and evaluations.
package repository

import (
	"context"

	"github.com/okian/holdout/internal/domain/model"
)

// AdmitFunc inspects a participant's history and returns nil to allow the
// append, or the reason it is refused.
type AdmitFunc func(h model.History) error

// Stats summarizes the stored history.
type Stats struct {
	Participants int
	Submissions  int
	Evaluations  int
}

// Store is the durable, append-only submission history.
type Store interface {
	// Append evaluates admit against the participant's current history and,
	// if admitted, stores sub and its evaluation (may be nil). Both happen in
	// one critical section per participant. The stored submission is
	// returned with its assigned ID. CreatedAt is raised to the participant's
	// latest submission time if it would otherwise go backwards.
	Append(ctx context.Context, sub model.Submission, eval *model.Evaluation, admit AdmitFunc) (model.Submission, error)

	// History returns the participant's submission count and latest time.
	History(ctx context.Context, userID string) (model.History, error)

	// Records returns a point-in-time snapshot of every submission in
	// insertion order.
	Records(ctx context.Context) ([]model.Record, error)

	// UserRecords returns the participant's submissions in insertion order.
	UserRecords(ctx context.Context, userID string) ([]model.Record, error)

	// ReplaceSelection clears every final-selection flag of the participant
	// and sets it on exactly ids, atomically. Every id must be an evaluated
	// submission of the participant, otherwise ErrSubmissionNotFound is
	// returned and nothing changes.
	ReplaceSelection(ctx context.Context, userID string, ids []int64) error

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
