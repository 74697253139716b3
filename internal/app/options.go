package service

import (
	"time"

	"github.com/okian/holdout/internal/adapters/artifact"
	"github.com/okian/holdout/internal/domain/admission"
	"github.com/okian/holdout/internal/domain/dedupe"
	"github.com/okian/holdout/internal/domain/leaderboard"
	"github.com/okian/holdout/internal/domain/scoring"
	"github.com/okian/holdout/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithScorer sets the scorer; accuracy is used by default.
func WithScorer(s scoring.Scorer) Option {
	return func(svc *Service) {
		if s != nil {
			svc.scorer = s
		}
	}
}

// WithAdmission passes options to the admission controller.
func WithAdmission(opts ...admission.Option) Option {
	return func(svc *Service) {
		svc.admissionOpts = append(svc.admissionOpts, opts...)
	}
}

// WithLeaderboard passes options to the leaderboard aggregator.
func WithLeaderboard(opts ...leaderboard.Option) Option {
	return func(svc *Service) {
		svc.boardOpts = append(svc.boardOpts, opts...)
	}
}

// WithArtifacts sets where uploaded files are kept. Without it the upload
// is scored but not retained.
func WithArtifacts(a artifact.Store) Option {
	return func(svc *Service) { svc.artifacts = a }
}

// WithDeduper sets the idempotency key tracker.
func WithDeduper(d dedupe.Deduper) Option {
	return func(svc *Service) {
		if d != nil {
			svc.deduper = d
		}
	}
}

// WithExporter enables the close and terminate exports.
func WithExporter(e Exporter) Option {
	return func(svc *Service) { svc.exporter = e }
}

// WithExportWorkers sets the number of maintenance workers.
func WithExportWorkers(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.exportWorkers = n
		}
	}
}

// WithExportQueueSize bounds the maintenance job queue.
func WithExportQueueSize(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.exportQueueSize = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}
