package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	logger := asynqLogger{logger: cfg.Logger}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger:          logger,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.log().Error("task failed",
				slog.String("task", task.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err),
			)
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("worker: incomplete handler registration %q", h.Type)
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger.log()}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	w.logger.Info("worker started", slog.Bool("scheduler", w.scheduler != nil))
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// TaskByName builds the task registered under name with the given settings.
func TaskByName(name string, inTransit, reservationTTL time.Duration) (*asynq.Task, error) {
	switch name {
	case TaskStockIntegrity:
		return NewStockIntegrityTask(inTransit)
	case TaskReservationExpiry:
		return NewReservationExpiryTask(reservationTTL)
	default:
		return nil, fmt.Errorf("jobs: unsupported job %s", name)
	}
}

// Enqueue submits task to the default queue.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs: client not configured")
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// QueueInspector reads queue and scheduler state. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	SchedulerEntries() ([]*asynq.SchedulerEntry, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/schedule", h.schedule)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   int(info.Pending),
			Active:    int(info.Active),
			Scheduled: int(info.Scheduled),
			Retry:     int(info.Retry),
			Archived:  int(info.Archived),
			Paused:    info.Paused,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

type scheduleEntry struct {
	ID       string     `json:"id"`
	Spec     string     `json:"spec"`
	TaskType string     `json:"task_type"`
	NextRun  time.Time  `json:"next_run"`
	PrevRun  *time.Time `json:"prev_run,omitempty"`
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	entries := []scheduleEntry{}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, entries)
		return
	}
	found, err := h.inspector.SchedulerEntries()
	if err != nil {
		h.logger.Warn("jobs schedule", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Scheduler Unavailable", "")
		return
	}
	for _, e := range found {
		if e == nil || e.Task == nil {
			continue
		}
		entry := scheduleEntry{ID: e.ID, Spec: e.Spec, TaskType: e.Task.Type(), NextRun: e.Next.UTC()}
		if !e.Prev.IsZero() {
			prev := e.Prev.UTC()
			entry.PrevRun = &prev
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TaskType < entries[j].TaskType })
	httpx.JSON(w, http.StatusOK, entries)
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) log() *slog.Logger {
	if l.logger != nil {
		return l.logger.With(slog.String("component", "asynq"))
	}
	return slog.Default().With(slog.String("component", "asynq"))
}

func (l asynqLogger) Debug(args ...any) { l.log().Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log().Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log().Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log().Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log().Error(fmt.Sprint(args...)) }
