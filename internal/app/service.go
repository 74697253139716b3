// Package service wires the competition components together and implements
// the operations behind the HTTP API.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/holdout/internal/adapters/artifact"
	"github.com/okian/holdout/internal/adapters/dataset"
	"github.com/okian/holdout/internal/adapters/export"
	"github.com/okian/holdout/internal/adapters/mq/queue"
	"github.com/okian/holdout/internal/adapters/mq/scheduler"
	"github.com/okian/holdout/internal/adapters/mq/worker"
	"github.com/okian/holdout/internal/adapters/repository"
	"github.com/okian/holdout/internal/domain/admission"
	"github.com/okian/holdout/internal/domain/dedupe"
	"github.com/okian/holdout/internal/domain/leaderboard"
	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/internal/domain/scoring"
	"github.com/okian/holdout/internal/domain/selection"
	"github.com/okian/holdout/internal/domain/stage"
	"github.com/okian/holdout/internal/domain/types"
	"github.com/okian/holdout/pkg/logger"
	"github.com/okian/holdout/pkg/metrics"
)

const (
	defaultExportWorkers   = 2
	defaultExportQueueSize = 16
)

// Exporter dumps the history for a stage.
type Exporter interface {
	Export(ctx context.Context, stage string) (export.Result, error)
}

// SubmissionResult is returned to the participant after an upload.
type SubmissionResult struct {
	SubmissionID int64     `json:"submission_id,omitempty"`
	PublicScore  float64   `json:"public_score"`
	ScoreDisplay string    `json:"score_display"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Remaining    int       `json:"remaining"` // -1 when unlimited
	DryRun       bool      `json:"dry_run"`
}

// SubmissionView is one row of a participant's history. The private score
// is never shown.
type SubmissionView struct {
	ID           int64     `json:"id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Evaluated    bool      `json:"evaluated"`
	PublicScore  float64   `json:"public_score,omitempty"`
	ScoreDisplay string    `json:"score_display,omitempty"`
	Selected     bool      `json:"selected"`
}

// Listing is a participant's own submission history.
type Listing struct {
	UserID      string           `json:"user_id"`
	Stage       string           `json:"stage"`
	Remaining   int              `json:"remaining"`
	MaxSelected int              `json:"max_selected"`
	Submissions []SubmissionView `json:"submissions"`
}

// StageInfo describes the competition clock.
type StageInfo struct {
	Stage         string    `json:"stage"`
	CanSubmit     bool      `json:"can_submit"`
	Now           time.Time `json:"now"`
	OpenTime      time.Time `json:"open_time"`
	CloseTime     time.Time `json:"close_time"`
	TerminateTime time.Time `json:"terminate_time"`
}

// Service implements the API dependencies for one competition.
type Service struct {
	mu sync.RWMutex

	// Core components
	schedule   stage.Schedule
	store      repository.Store
	solution   scoring.Solution
	scorer     scoring.Scorer
	admission  *admission.Controller
	aggregator *leaderboard.Aggregator
	selection  *selection.Registry
	artifacts  artifact.Store
	deduper    dedupe.Deduper
	exporter   Exporter

	admissionOpts []admission.Option
	boardOpts     []leaderboard.Option

	// Maintenance
	jobs            *queue.InMemoryQueue
	pool            *worker.Pool
	scheduler       *scheduler.Scheduler
	exportWorkers   int
	exportQueueSize int

	// State
	started bool
	now     func() time.Time

	// Logging
	logger logger.Logger
}

// New constructs a Service for schedule backed by store, scoring uploads
// against solution.
func New(schedule stage.Schedule, store repository.Store, solution scoring.Solution, opts ...Option) *Service {
	s := &Service{
		schedule:        schedule,
		store:           store,
		solution:        solution,
		scorer:          scoring.NewHoldoutScorer(),
		deduper:         dedupe.NewInMemoryDeduper(),
		exportWorkers:   defaultExportWorkers,
		exportQueueSize: defaultExportQueueSize,
		now:             time.Now,
		logger:          logger.Default("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.admission = admission.New(schedule, s.admissionOpts...)
	s.aggregator = leaderboard.New(s.boardOpts...)
	s.selection = selection.New(store)
	return s
}

// Start launches the maintenance workers and schedules the close and
// terminate exports.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting competition service...")

	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.exportQueueSize))
	s.pool = worker.NewPool(s.exportWorkers, s.jobs, worker.WithLogger(s.logger.Named("maintenance")))
	s.pool.Start(context.WithoutCancel(ctx))
	s.scheduler = scheduler.New(s.jobs, scheduler.WithClock(s.now), scheduler.WithLogger(s.logger.Named("scheduler")))

	if s.exporter != nil {
		for _, t := range []struct {
			at time.Time
			st stage.Stage
		}{
			{s.schedule.CloseTime(), stage.Closed},
			{s.schedule.TerminateTime(), stage.Terminated},
		} {
			name := t.st.String()
			if _, err := s.scheduler.Schedule(ctx, t.at, name, s.exportAction(name)); err != nil {
				return fmt.Errorf("schedule %s export: %w", name, err)
			}
		}
	}

	s.started = true
	now := s.now()
	s.logger.Info(ctx, "competition service started",
		logger.String("stage", s.schedule.Stage(now).String()),
		logger.Time("open", s.schedule.OpenTime()),
		logger.Time("close", s.schedule.CloseTime()),
		logger.Time("terminate", s.schedule.TerminateTime()),
		logger.Int("pending_tasks", s.scheduler.Pending()),
	)
	return nil
}

func (s *Service) exportAction(stageName string) scheduler.Action {
	return func(ctx context.Context) error {
		_, err := s.exporter.Export(ctx, stageName)
		return err
	}
}

// Stop cancels pending tasks, drains running jobs and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping competition service...")

	s.scheduler.Stop()
	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "competition service stopped")
	return errors.Join(errs...)
}

// Stage returns the competition clock at the current instant.
func (s *Service) Stage(_ context.Context) StageInfo {
	now := s.now()
	return StageInfo{
		Stage:         s.schedule.Stage(now).String(),
		CanSubmit:     s.schedule.CanSubmit(now),
		Now:           now.UTC(),
		OpenTime:      s.schedule.OpenTime(),
		CloseTime:     s.schedule.CloseTime(),
		TerminateTime: s.schedule.TerminateTime(),
	}
}

func denialLabel(err error) string {
	switch {
	case errors.Is(err, admission.ErrStageClosed):
		return "stage_closed"
	case errors.Is(err, admission.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, admission.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "other"
	}
}

func (s *Service) deny(ctx context.Context, p model.Participant, err error) error {
	metrics.RecordAdmissionDenial(denialLabel(err))
	metrics.RecordSubmission("denied")
	s.logger.Debug(ctx, "submission denied",
		logger.String("user_id", p.UserID),
		logger.Error(err),
	)
	return err
}

// AttemptSubmission validates, scores and, if admitted, records an upload.
// idemKey is optional; a repeated key yields a *DuplicateError.
// Administrator uploads are scored but never stored.
func (s *Service) AttemptSubmission(ctx context.Context, p model.Participant, filename string, body io.Reader, idemKey string) (SubmissionResult, error) {
	now := s.now()

	if idemKey != "" {
		switch outcome, id := s.deduper.Claim(ctx, p.UserID, idemKey); outcome {
		case dedupe.Done, dedupe.InFlight:
			metrics.RecordSubmission("duplicate")
			return SubmissionResult{}, &DuplicateError{SubmissionID: id}
		}
	}
	res, err := s.attempt(ctx, p, now, filename, body)
	if idemKey != "" {
		if err != nil || res.DryRun {
			s.deduper.Release(ctx, p.UserID, idemKey)
		} else {
			s.deduper.Complete(ctx, p.UserID, idemKey, res.SubmissionID)
		}
	}
	return res, err
}

func (s *Service) attempt(ctx context.Context, p model.Participant, now time.Time, filename string, body io.Reader) (SubmissionResult, error) {
	h, err := s.store.History(ctx, p.UserID)
	if err != nil {
		metrics.RecordSubmission("error")
		return SubmissionResult{}, fmt.Errorf("load history: %w", err)
	}
	if d := s.admission.TryAdmit(p, now, h); !d.Admitted {
		return SubmissionResult{}, s.deny(ctx, p, s.admission.Err(d))
	}

	if err := dataset.CheckExtension(filename); err != nil {
		metrics.RecordSubmission("invalid")
		return SubmissionResult{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		metrics.RecordSubmission("invalid")
		return SubmissionResult{}, fmt.Errorf("%w: read upload: %v", dataset.ErrInvalidSubmission, err)
	}
	pred, err := dataset.ValidatePredictions(bytes.NewReader(data), s.solution)
	if err != nil {
		metrics.RecordSubmission("invalid")
		return SubmissionResult{}, err
	}

	scores, err := s.scorer.Score(ctx, pred, s.solution)
	if err != nil {
		metrics.RecordSubmission("error")
		metrics.RecordErrorByComponent("service", "scoring")
		s.logger.Error(ctx, "scoring failed on validated upload",
			logger.String("user_id", p.UserID),
			logger.String("file", filename),
			logger.Error(err),
		)
		return SubmissionResult{}, err
	}

	res := SubmissionResult{
		PublicScore:  scores.Public,
		ScoreDisplay: leaderboard.FormatScore(scores.Public),
		SubmittedAt:  now.UTC(),
		Remaining:    s.admission.Remaining(p, h.Count),
	}
	if p.IsAdmin() {
		res.DryRun = true
		metrics.RecordSubmission("dry_run")
		s.logger.Info(ctx, "administrator evaluation",
			logger.String("user_id", p.UserID),
			logger.Float64("public", scores.Public),
			logger.Float64("private", scores.Private),
		)
		return res, nil
	}

	var ref string
	if s.artifacts != nil {
		ref, err = s.artifacts.Save(ctx, p.UserID, now, bytes.NewReader(data))
		if err != nil {
			metrics.RecordSubmission("error")
			metrics.RecordErrorByComponent("service", "artifact")
			return SubmissionResult{}, fmt.Errorf("store upload: %w", err)
		}
	}

	var count int
	sub, err := s.store.Append(ctx,
		model.Submission{UserID: p.UserID, CreatedAt: now, ArtifactRef: ref},
		&model.Evaluation{PublicScore: scores.Public, PrivateScore: scores.Private, EvaluatedAt: now},
		func(h model.History) error {
			count = h.Count
			return s.admission.Err(s.admission.TryAdmit(p, now, h))
		},
	)
	if err != nil {
		if ref != "" {
			if rmErr := s.artifacts.Remove(ctx, ref); rmErr != nil {
				s.logger.Warn(ctx, "failed to remove refused upload", logger.String("ref", ref), logger.Error(rmErr))
			}
		}
		var deny *admission.DenyError
		if errors.As(err, &deny) {
			return SubmissionResult{}, s.deny(ctx, p, err)
		}
		metrics.RecordSubmission("error")
		return SubmissionResult{}, fmt.Errorf("record submission: %w", err)
	}

	metrics.RecordSubmission("accepted")
	metrics.RecordEvaluation()
	res.SubmissionID = sub.ID
	res.SubmittedAt = sub.CreatedAt.UTC()
	res.Remaining = s.admission.Remaining(p, count+1)
	s.logger.Info(ctx, "submission accepted",
		logger.String("user_id", p.UserID),
		logger.Int64("submission_id", sub.ID),
		logger.Float64("public", scores.Public),
	)
	return res, nil
}

// LiveLeaderboard ranks participants by best public score. Before the
// competition opens only the administrator may see it.
func (s *Service) LiveLeaderboard(ctx context.Context, viewer *model.Participant) (types.Board, error) {
	now := s.now()
	st := s.schedule.Stage(now)
	if st == stage.Ready && (viewer == nil || !viewer.IsAdmin()) {
		return types.Board{}, ErrLeaderboardUnavailable
	}
	records, err := s.store.Records(ctx)
	if err != nil {
		return types.Board{}, fmt.Errorf("snapshot: %w", err)
	}
	entries := s.aggregator.Live(records)
	metrics.UpdateLeaderboardParticipants("live", len(entries))
	return types.Board{Kind: "live", Stage: st.String(), GeneratedAt: now.UTC(), Entries: entries}, nil
}

// FinalLeaderboard ranks participants by private score using their final
// selection. Administrator only; provisional until the competition is
// terminated.
func (s *Service) FinalLeaderboard(ctx context.Context, viewer model.Participant) (types.Board, error) {
	if !viewer.IsAdmin() {
		return types.Board{}, ErrForbidden
	}
	now := s.now()
	st := s.schedule.Stage(now)
	records, err := s.store.Records(ctx)
	if err != nil {
		return types.Board{}, fmt.Errorf("snapshot: %w", err)
	}
	entries := s.aggregator.Final(records, s.schedule.CloseTime())
	metrics.UpdateLeaderboardParticipants("final", len(entries))
	return types.Board{
		Kind:        "final",
		Stage:       st.String(),
		Provisional: st != stage.Terminated,
		GeneratedAt: now.UTC(),
		Entries:     entries,
	}, nil
}

// SetFinalSelection replaces the participant's final selection.
func (s *Service) SetFinalSelection(ctx context.Context, p model.Participant, ids []int64) error {
	if err := s.selection.SetFinalSelection(ctx, p.UserID, ids); err != nil {
		s.logger.Debug(ctx, "selection refused", logger.String("user_id", p.UserID), logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "final selection updated",
		logger.String("user_id", p.UserID),
		logger.Any("submission_ids", selection.Normalize(ids)),
	)
	return nil
}

// Submissions lists the participant's own history.
func (s *Service) Submissions(ctx context.Context, p model.Participant) (Listing, error) {
	records, err := s.store.UserRecords(ctx, p.UserID)
	if err != nil {
		return Listing{}, fmt.Errorf("load submissions: %w", err)
	}
	out := Listing{
		UserID:      p.UserID,
		Stage:       s.schedule.Stage(s.now()).String(),
		Remaining:   s.admission.Remaining(p, len(records)),
		MaxSelected: selection.MaxSelections,
		Submissions: make([]SubmissionView, 0, len(records)),
	}
	for _, r := range records {
		v := SubmissionView{ID: r.Submission.ID, SubmittedAt: r.Submission.CreatedAt.UTC()}
		if e := r.Evaluation; e != nil {
			v.Evaluated = true
			v.PublicScore = e.PublicScore
			v.ScoreDisplay = leaderboard.FormatScore(e.PublicScore)
			v.Selected = e.SelectedForFinal
		}
		out.Submissions = append(out.Submissions, v)
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"stage":       s.schedule.Stage(s.now()).String(),
		"dedupeSize":  s.deduper.Size(),
		"minInterval": s.admission.MinInterval().String(),
		"maxQuota":    s.admission.MaxQuota(),
		"order":       s.aggregator.Order().String(),
	}
	if st, err := s.store.Stats(ctx); err == nil {
		stats["participants"] = st.Participants
		stats["submissions"] = st.Submissions
		stats["evaluations"] = st.Evaluations
	}
	if s.started {
		stats["pendingTasks"] = s.scheduler.Pending()
		stats["jobQueueLength"] = s.jobs.Len(ctx)
		stats["exportWorkers"] = s.pool.Size()
	}
	return stats
}
