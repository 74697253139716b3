// Package export writes read-only CSV dumps of the submission history at
// stage transitions.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/pkg/logger"
	"github.com/okian/holdout/pkg/metrics"
)

const (
	nameTimeLayout = "20060102150405"
	rowTimeLayout  = "2006/01/02 15:04:05"
)

// Source provides the snapshot to export.
type Source interface {
	Records(ctx context.Context) ([]model.Record, error)
}

// Result describes a finished export.
type Result struct {
	RunID       string
	Files       []string
	Submissions int
	Evaluations int
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// Exporter dumps the submissions and evaluations tables to a Sink.
type Exporter struct {
	source Source
	sink   Sink
	log    logger.Logger
	now    func() time.Time
}

// New creates an exporter.
func New(source Source, sink Sink, opts ...Option) *Exporter {
	e := &Exporter{source: source, sink: sink, log: logger.Default("export"), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the dump name of table for stage at t.
func FileName(table, stage string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s_dump.csv", table, stage, t.UTC().Format(nameTimeLayout))
}

// Export writes both tables for stage. It never takes participant locks.
func (e *Exporter) Export(ctx context.Context, stage string) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	records, err := e.source.Records(ctx)
	if err != nil {
		metrics.RecordExport(stage, "error")
		return Result{}, fmt.Errorf("export %s: snapshot: %w", stage, err)
	}

	subs, evals, nEval := encode(records)
	at := e.now()
	res := Result{
		RunID:       runID,
		Files:       []string{FileName("submissions", stage, at), FileName("evaluations", stage, at)},
		Submissions: len(records),
		Evaluations: nEval,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.sink.Put(gctx, res.Files[0], bytes.NewReader(subs)) })
	g.Go(func() error { return e.sink.Put(gctx, res.Files[1], bytes.NewReader(evals)) })
	if err := g.Wait(); err != nil {
		metrics.RecordExport(stage, "error")
		return Result{}, fmt.Errorf("export %s: %w", stage, err)
	}

	metrics.RecordExport(stage, "ok")
	metrics.RecordExportDuration(float64(time.Since(start).Milliseconds()))
	e.log.Info(ctx, "export written",
		logger.String("run_id", runID),
		logger.String("stage", stage),
		logger.Int("submissions", res.Submissions),
		logger.Int("evaluations", res.Evaluations),
	)
	return res, nil
}

func encode(records []model.Record) (subs, evals []byte, nEval int) {
	var sb, eb bytes.Buffer
	sw, ew := csv.NewWriter(&sb), csv.NewWriter(&eb)

	_ = sw.Write([]string{"id", "user_id", "created_at", "artifact_ref"})
	_ = ew.Write([]string{"submission_id", "public_score", "private_score", "evaluated_at", "selected_for_final"})
	for _, r := range records {
		s := r.Submission
		_ = sw.Write([]string{
			strconv.FormatInt(s.ID, 10), s.UserID, s.CreatedAt.UTC().Format(rowTimeLayout), s.ArtifactRef,
		})
		if ev := r.Evaluation; ev != nil {
			nEval++
			_ = ew.Write([]string{
				strconv.FormatInt(ev.SubmissionID, 10),
				strconv.FormatFloat(ev.PublicScore, 'g', -1, 64),
				strconv.FormatFloat(ev.PrivateScore, 'g', -1, 64),
				ev.EvaluatedAt.UTC().Format(rowTimeLayout),
				strconv.FormatBool(ev.SelectedForFinal),
			})
		}
	}
	sw.Flush()
	ew.Flush()
	return sb.Bytes(), eb.Bytes(), nEval
}
