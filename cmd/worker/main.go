package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-books/internal/app"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
	"github.com/odyssey-erp/odyssey-books/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.AppStorage != app.StoragePostgres {
		slog.Default().Error("the worker requires postgres storage", slog.String("storage", cfg.AppStorage))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	rt, err := app.OpenBooks(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("open books", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	source := jobs.PGIntegritySource{Pool: rt.Pool}
	integrityJob := jobs.NewGLIntegrityJob(source, rt.Books.Ledger, logger, metrics.Jobs())
	coaJob := jobs.NewCOASyncJob(source, rt.Books.Directory, logger, metrics.Jobs())
	cleanupJob := &jobs.IdempotencyCleanupJob{Keys: shared.NewIdempotencyStore(rt.Pool), Logger: logger, Metrics: metrics.Jobs()}

	integrityTask, err := jobs.NewGLIntegrityTask()
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	coaTask, err := jobs.NewCOASyncTask()
	if err != nil {
		logger.Error("build coa sync task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskCOASync, Handler: coaJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: coaTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
