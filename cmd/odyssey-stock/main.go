package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/cmd/odyssey-stock/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/bom"
	"github.com/odyssey-erp/odyssey-stock/internal/delivery"
	"github.com/odyssey-erp/odyssey-stock/internal/fieldservice"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/projects"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

const usage = `usage: odyssey-stock <command>

commands:
  serve                         run the HTTP API (default)
  migrate up|down|status        apply or inspect schema migrations
  jobs trigger <name>           enqueue stock:integrity or stock:reservation-expiry
  jobs stats                    show default queue counters
  token issue <actor-id> <role> print a bearer token for an actor`

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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger, args)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "token":
		err = runToken(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, redisOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokens := shared.NewTokenStore(redisClient, cfg.AuthTokenTTL)
	idempotencyStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
	auditLogger := shared.NewAuditLogger(dbpool, logger)

	metrics := observability.NewMetrics()
	stockMetrics := observability.NewStockMetrics(metrics.Registerer())

	projectRepo := projects.NewRepository(dbpool)
	productRepo := products.NewRepository(dbpool)
	warehouseRepo := warehouses.NewRepository(dbpool)
	directory := masterdata.NewDirectory(projectRepo, productRepo, warehouseRepo)

	rbacService := rbac.NewService()
	rbacMiddleware := rbac.Middleware{Service: rbacService, Tokens: tokens, Logger: logger}

	stockService := stock.NewService(stock.NewRepository(dbpool), directory, auditLogger, idempotencyStore, stockMetrics)
	deliveryService := delivery.NewService(delivery.NewRepository(dbpool), directory, stockService, auditLogger, idempotencyStore, stockMetrics)
	deliveryService.SetNumberRetries(cfg.DocNumberRetries)
	serviceFormService := fieldservice.NewService(fieldservice.NewRepository(dbpool), directory, auditLogger, stockMetrics)
	serviceFormService.SetNumberRetries(cfg.DocNumberRetries)
	bomService := bom.NewService(bom.NewRepository(dbpool), directory, stockService, auditLogger)
	warehouseService := warehouses.NewService(warehouseRepo, auditLogger)
	productService := products.NewService(productRepo, auditLogger)

	inspector := asynq.NewInspector(redisClientOpt(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		StockHandler:       stock.NewHandler(logger, stockService, rbacMiddleware),
		DeliveryHandler:    delivery.NewHandler(logger, deliveryService, rbacMiddleware),
		ServiceFormHandler: fieldservice.NewHandler(logger, serviceFormService, rbacMiddleware),
		BOMHandler:         bom.NewHandler(logger, bomService, rbacMiddleware),
		WarehouseHandler:   warehouses.NewHandler(logger, warehouseService, rbacMiddleware),
		ProductHandler:     products.NewHandler(logger, productService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Health:             healthCheck(dbpool, redisClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func healthCheck(pool *pgxpool.Pool, client *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		if err := pool.Ping(r.Context()); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := client.Ping(r.Context()).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		return migrate.Up(ctx, cfg.PGDSN, logger)
	case "down":
		return migrate.Down(ctx, cfg.PGDSN, logger)
	case "status":
		return migrate.Status(ctx, cfg.PGDSN, logger)
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(redisClientOpt(cfg), cfg.InTransitThreshold, cfg.ReservationTTL)
	defer jobsCLI.Close()

	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: job name required")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}

func runToken(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) != 3 || args[0] != "issue" {
		return errors.New("token: usage token issue <actor-id> <role>")
	}
	actorID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || actorID <= 0 {
		return fmt.Errorf("token: invalid actor id %q", args[1])
	}
	roles, err := rbac.NewService().ListRoles(ctx)
	if err != nil {
		return err
	}
	known := false
	for _, role := range roles {
		if role.Name == args[2] {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("token: unknown role %q", args[2])
	}

	redisClient, err := cache.New(ctx, redisOptions(cfg))
	if err != nil {
		return err
	}
	defer redisClient.Close()

	token, err := shared.NewTokenStore(redisClient, cfg.AuthTokenTTL).Issue(ctx, shared.Actor{ID: actorID, Role: args[2]})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func redisOptions(cfg *app.Config) cache.Options {
	return cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func redisClientOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
