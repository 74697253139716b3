package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/holdout/internal/adapters/artifact"
	"github.com/okian/holdout/internal/adapters/dataset"
	"github.com/okian/holdout/internal/adapters/export"
	"github.com/okian/holdout/internal/adapters/http/api"
	"github.com/okian/holdout/internal/adapters/http/swagger"
	"github.com/okian/holdout/internal/adapters/identity"
	"github.com/okian/holdout/internal/adapters/repository"
	service "github.com/okian/holdout/internal/app"
	"github.com/okian/holdout/internal/config"
	"github.com/okian/holdout/internal/domain/admission"
	"github.com/okian/holdout/internal/domain/dedupe"
	"github.com/okian/holdout/internal/domain/leaderboard"
	"github.com/okian/holdout/internal/domain/scoring"
	"github.com/okian/holdout/pkg/logger"
	"github.com/okian/holdout/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 30 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	connectTimeout            = 10 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel), logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(ctx, cfg); err != nil {
		logger.Get().Fatal(ctx, "competition service failed", logger.Error(err))
	}
}

// run wires every component from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	minInterval, err := cfg.MinIntervalDuration()
	if err != nil {
		return err
	}
	auth, err := identity.Load(cfg.APIKeysFile,
		identity.WithAdmin(cfg.AdminUserID),
		identity.WithBaseline(cfg.BaselineUserID),
	)
	if err != nil {
		return err
	}
	solution, err := dataset.LoadSolution(cfg.SolutionFile)
	if err != nil {
		return err
	}
	scorer, order, err := buildScorer(cfg)
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewDiskStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	sink, err := buildSink(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	exporter := export.New(store, sink, export.WithLogger(logger.Named("export")))

	svc := service.New(schedule, store, solution,
		service.WithLogger(logger.Named("service")),
		service.WithScorer(scorer),
		service.WithAdmission(admission.WithMinInterval(minInterval), admission.WithMaxQuota(cfg.MaxQuota)),
		service.WithLeaderboard(leaderboard.WithOrder(order), leaderboard.WithBaseline(cfg.BaselineUserID)),
		service.WithArtifacts(artifacts),
		service.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		service.WithExporter(exporter),
		service.WithExportWorkers(cfg.ExportWorkers),
		service.WithExportQueueSize(cfg.ExportQueueSize),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, auth, api.WithMaxUploadBytes(cfg.MaxUploadBytes)).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("competition", cfg.Name),
			logger.String("storage", cfg.Storage),
			logger.String("export_sink", cfg.ExportSink),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildScorer resolves the metric and the ranking direction. score_order
// overrides the metric's natural direction.
func buildScorer(cfg *config.Config) (scoring.Scorer, leaderboard.Order, error) {
	m, err := scoring.LookupMetric(cfg.Metric)
	if err != nil {
		return nil, leaderboard.HigherIsBetter, err
	}
	order := leaderboard.HigherIsBetter
	if !m.HigherIsBetter {
		order = leaderboard.LowerIsBetter
	}
	if cfg.ScoreOrder != "" {
		if order, err = leaderboard.ParseOrder(cfg.ScoreOrder); err != nil {
			return nil, leaderboard.HigherIsBetter, err
		}
	}
	return scoring.NewHoldoutScorer(scoring.WithMetric(m)), order, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := repository.Connect(ctx, cfg.PostgresDSN, connectTimeout)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewPostgresStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

func buildSink(ctx context.Context, cfg *config.Config) (export.Sink, error) {
	if cfg.ExportSink == config.SinkS3 {
		sink, err := export.NewS3Sink(ctx, export.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	sink, err := export.NewDirSink(cfg.DumpDir)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
