package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-books/internal/app"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
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

	params := app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountingHandler: rt.Books.Handler(),
		Metrics:           metrics,
	}
	if rt.Pool != nil {
		params.Database = rt.Pool
	}
	if rt.Redis != nil {
		inspector := asynq.NewInspector(cfg.Redis().Asynq())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		params.JobHandler = jobs.NewHandler(inspector, logger)
	}
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.AppStorage))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
