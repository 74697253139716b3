// Package types contains common types used across the application
package types

import "time"

// Entry represents a leaderboard entry
type Entry struct {
	Rank         int       `json:"rank"`
	UserID       string    `json:"user_id"`
	Score        float64   `json:"score"`
	ScoreDisplay string    `json:"score_display"`
	SubmissionID int64     `json:"submission_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Baseline     bool      `json:"baseline,omitempty"`
}

// Board is a ranked leaderboard together with the conditions it was computed under.
type Board struct {
	Kind        string    `json:"kind"` // "live" or "final"
	Stage       string    `json:"stage"`
	Provisional bool      `json:"provisional"`
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}
