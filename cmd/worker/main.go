package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/projects"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	jobMetrics := jobmetrics.NewMetrics(registry)
	stockMetrics := observability.NewStockMetrics(registry)

	integrityJob := jobs.NewStockIntegrityJob(&jobs.PGIntegrityStore{Pool: pool}, stockMetrics, logger, jobMetrics)
	integrityTask, err := jobs.NewStockIntegrityTask(cfg.InTransitThreshold)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskStockIntegrity, Handler: integrityJob.Handle},
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	if cfg.ReservationTTL > 0 {
		// Expiry cancels through the ledger service so the reserved column is released.
		directory := masterdata.NewDirectory(projects.NewRepository(pool), products.NewRepository(pool), warehouses.NewRepository(pool))
		ledger := stock.NewService(stock.NewRepository(pool), directory, shared.NewAuditLogger(pool, logger), nil, stockMetrics)
		expiryJob := jobs.NewReservationExpiryJob(ledger, logger, jobMetrics)
		expiryTask, err := jobs.NewReservationExpiryTask(cfg.ReservationTTL)
		if err != nil {
			logger.Error("build reservation expiry task", slog.Any("error", err))
			os.Exit(1)
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskReservationExpiry, Handler: expiryJob.Handle})
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ReservationExpiryCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	} else {
		logger.Info("reservation expiry disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: cfg.AppReadTimeout,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
