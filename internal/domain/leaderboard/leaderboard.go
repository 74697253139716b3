// Package leaderboard derives the live and final rankings from submission
// history.
//
// Both boards are pure functions of a point-in-time snapshot of records, so
// they never lock and can run concurrently with new submissions.
//
// Tie-breaks:
//   - live: earlier submission achieving the best public score, then user id
//   - final: user id
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/internal/domain/types"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithOrder sets the ranking direction.
func WithOrder(o Order) Option {
	return func(a *Aggregator) { a.order = o }
}

// WithBaseline flags entries of the given user as the reference baseline.
func WithBaseline(userID string) Option {
	return func(a *Aggregator) { a.baselineID = userID }
}

// Aggregator computes leaderboards.
type Aggregator struct {
	order      Order
	baselineID string
}

// New creates an Aggregator ranking higher scores first unless overridden.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{order: HigherIsBetter}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Order returns the configured ranking direction.
func (a *Aggregator) Order() Order { return a.order }

type pick struct {
	userID string
	score  float64
	sub    model.Submission
}

// Live ranks each participant by their best public score.
func (a *Aggregator) Live(records []model.Record) []types.Entry {
	best := make(map[string]*pick)
	for _, r := range records {
		if r.Evaluation == nil {
			continue
		}
		uid := r.Submission.UserID
		cur, ok := best[uid]
		if !ok || a.order.Better(r.Evaluation.PublicScore, cur.score) ||
			(r.Evaluation.PublicScore == cur.score && earlier(r.Submission, cur.sub)) {
			best[uid] = &pick{userID: uid, score: r.Evaluation.PublicScore, sub: r.Submission}
		}
	}

	picks := collect(best)
	sort.Slice(picks, func(i, j int) bool {
		if picks[i].score != picks[j].score {
			return a.order.Better(picks[i].score, picks[j].score)
		}
		if !picks[i].sub.CreatedAt.Equal(picks[j].sub.CreatedAt) {
			return picks[i].sub.CreatedAt.Before(picks[j].sub.CreatedAt)
		}
		return picks[i].userID < picks[j].userID
	})
	return a.entries(picks)
}

// Final ranks participants by private score. Only submissions created before
// closeAt are eligible. Participants who selected at least one eligible
// submission get the best private score among their selection; everyone else
// gets the private score of their best public submission, preferring the most
// recent one on ties.
func (a *Aggregator) Final(records []model.Record, closeAt time.Time) []types.Entry {
	selected := make(map[string]*pick)
	fallback := make(map[string]*pick)

	for _, r := range records {
		e := r.Evaluation
		if e == nil || !r.Submission.CreatedAt.Before(closeAt) {
			continue
		}
		uid := r.Submission.UserID

		if e.SelectedForFinal {
			cur, ok := selected[uid]
			if !ok || a.order.Better(e.PrivateScore, cur.score) ||
				(e.PrivateScore == cur.score && earlier(r.Submission, cur.sub)) {
				selected[uid] = &pick{userID: uid, score: e.PrivateScore, sub: r.Submission}
			}
		}

		// fallback tracks the public score in score and swaps to private below
		cur, ok := fallback[uid]
		if !ok || a.order.Better(e.PublicScore, cur.score) ||
			(e.PublicScore == cur.score && earlier(cur.sub, r.Submission)) {
			fallback[uid] = &pick{userID: uid, score: e.PublicScore, sub: r.Submission}
		}
	}

	private := make(map[int64]float64, len(fallback))
	for _, r := range records {
		if r.Evaluation != nil {
			private[r.Submission.ID] = r.Evaluation.PrivateScore
		}
	}

	merged := make(map[string]*pick, len(fallback))
	for uid, p := range fallback {
		if s, ok := selected[uid]; ok {
			merged[uid] = s
			continue
		}
		merged[uid] = &pick{userID: uid, score: private[p.sub.ID], sub: p.sub}
	}

	picks := collect(merged)
	sort.Slice(picks, func(i, j int) bool {
		if picks[i].score != picks[j].score {
			return a.order.Better(picks[i].score, picks[j].score)
		}
		return picks[i].userID < picks[j].userID
	})
	return a.entries(picks)
}

// earlier orders submissions by creation time, then id.
func earlier(x, y model.Submission) bool {
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID < y.ID
}

func collect(m map[string]*pick) []*pick {
	out := make([]*pick, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func (a *Aggregator) entries(picks []*pick) []types.Entry {
	out := make([]types.Entry, len(picks))
	for i, p := range picks {
		out[i] = types.Entry{
			UserID:       p.userID,
			Score:        p.score,
			ScoreDisplay: FormatScore(p.score),
			SubmissionID: p.sub.ID,
			SubmittedAt:  p.sub.CreatedAt,
			Baseline:     a.baselineID != "" && p.userID == a.baselineID,
		}
	}
	assignRanksWithTies(out)
	return out
}

// FormatScore renders a score the way boards display it.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.3f", score)
}

// assignRanksWithTies gives equal scores the same rank; the next distinct
// score takes the following rank.
func assignRanksWithTies(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
