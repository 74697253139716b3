// Package scoring computes public and private scores of a submission against
// the held-out solution.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/holdout/pkg/metrics"
)

// Truth is one record of the held-out solution.
type Truth struct {
	ID     string
	Value  float64
	Public bool
}

// Solution is the held-out solution in file order.
type Solution []Truth

// Predictions maps record id to predicted value.
type Predictions map[string]float64

// Scores is the result of scoring one submission.
type Scores struct {
	Public  float64
	Private float64
}

// Scorer computes scores for a submission.
type Scorer interface {
	// Score partitions by the solution's public flag and evaluates each side.
	Score(ctx context.Context, pred Predictions, sol Solution) (Scores, error)
}

// Option applies a configuration option to the HoldoutScorer.
type Option func(*HoldoutScorer)

// WithMetric sets the metric used for both partitions.
func WithMetric(m Metric) Option {
	return func(s *HoldoutScorer) {
		if m.Evaluate != nil {
			s.metric = m
		}
	}
}

// WithEvaluator sets a bare evaluator, keeping the current direction.
func WithEvaluator(name string, e Evaluator) Option {
	return func(s *HoldoutScorer) {
		if e != nil {
			s.metric = Metric{Name: name, Evaluate: e, HigherIsBetter: s.metric.HigherIsBetter}
		}
	}
}

// HoldoutScorer implements Scorer with an injected evaluator.
type HoldoutScorer struct {
	metric Metric
}

// NewHoldoutScorer creates a scorer; accuracy is used unless overridden.
func NewHoldoutScorer(opts ...Option) *HoldoutScorer {
	s := &HoldoutScorer{metric: builtinMetrics["accuracy"]}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metric returns the metric in use.
func (s *HoldoutScorer) Metric() Metric { return s.metric }

// Score implements Scorer.
func (s *HoldoutScorer) Score(ctx context.Context, pred Predictions, sol Solution) (Scores, error) {
	start := time.Now()
	defer func() {
		metrics.RecordScoringLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return Scores{}, fmt.Errorf("context cancelled: %w", err)
	}
	if len(pred) != len(sol) {
		metrics.RecordScoringError()
		return Scores{}, fmt.Errorf("%w: %d predictions for %d solution rows", ErrInconsistentData, len(pred), len(sol))
	}

	var truePub, predPub, truePriv, predPriv []float64
	for _, row := range sol {
		p, ok := pred[row.ID]
		if !ok {
			metrics.RecordScoringError()
			return Scores{}, fmt.Errorf("%w: missing prediction for id %q", ErrInconsistentData, row.ID)
		}
		if row.Public {
			truePub = append(truePub, row.Value)
			predPub = append(predPub, p)
		} else {
			truePriv = append(truePriv, row.Value)
			predPriv = append(predPriv, p)
		}
	}
	if len(truePub) == 0 || len(truePriv) == 0 {
		metrics.RecordScoringError()
		return Scores{}, fmt.Errorf("%w: degenerate public/private split (%d/%d)", ErrInconsistentData, len(truePub), len(truePriv))
	}

	public, err := s.metric.Evaluate(truePub, predPub)
	if err != nil {
		metrics.RecordScoringError()
		return Scores{}, fmt.Errorf("public partition: %w", err)
	}
	private, err := s.metric.Evaluate(truePriv, predPriv)
	if err != nil {
		metrics.RecordScoringError()
		return Scores{}, fmt.Errorf("private partition: %w", err)
	}
	if !finite(public) || !finite(private) {
		metrics.RecordScoringError()
		return Scores{}, fmt.Errorf("%w: non-finite score (public %v, private %v)", ErrInconsistentData, public, private)
	}
	return Scores{Public: public, Private: private}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
