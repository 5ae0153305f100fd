package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// systemActor is recorded as the actor of automatic cancellations.
const systemActor int64 = 0

// Reservations is the slice of the reservation manager the expiry job uses.
type Reservations interface {
	ListReservations(ctx context.Context, filter stock.ReservationFilter) ([]stock.Reservation, error)
	CancelReservation(ctx context.Context, id, actorID int64) (stock.Reservation, error)
}

// ReservationExpiryJob cancels ACTIVE reservations older than the TTL.
type ReservationExpiryJob struct {
	Reservations Reservations
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewReservationExpiryJob initialises the expiry handler.
func NewReservationExpiryJob(reservations Reservations, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationExpiryJob {
	return &ReservationExpiryJob{
		Reservations: reservations,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one expiry sweep.
func (j *ReservationExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reservations == nil {
		return errors.New("reservation expiry: handler not configured")
	}
	var payload ReservationExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TTLSeconds <= 0 {
		return asynq.SkipRetry
	}
	ttl := time.Duration(payload.TTLSeconds) * time.Second
	tracker := j.metrics().Track(TaskReservationExpiry)
	cancelled, err := j.Expire(ctx, ttl)
	j.metrics().AddExpired(cancelled)
	return tracker.End(err)
}

// Expire cancels every ACTIVE reservation created before now-ttl and reports
// how many were cancelled. Reservations settled concurrently are skipped.
func (j *ReservationExpiryJob) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := j.now().Add(-ttl)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	var expired []stock.Reservation
	page := shared.PageRequest{Limit: 500}
	for {
		batch, err := j.Reservations.ListReservations(ctx, stock.ReservationFilter{
			Status: stock.ReservationActive,
			Page:   page,
		})
		if err != nil {
			return 0, err
		}
		for _, res := range batch {
			if res.CreatedAt.Before(cutoff) {
				expired = append(expired, res)
			}
		}
		if len(batch) < page.Limit {
			break
		}
		page.Offset += page.Limit
	}

	cancelled := 0
	for _, res := range expired {
		if _, err := j.Reservations.CancelReservation(ctx, res.ID, systemActor); err != nil {
			if errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrNotFound) {
				logger.Info("reservation already settled", slog.Int64("reservation_id", res.ID))
				continue
			}
			return cancelled, err
		}
		cancelled++
		logger.Info("reservation expired",
			slog.Int64("reservation_id", res.ID),
			slog.Int64("project_id", res.ProjectID),
			slog.String("quantity", res.Quantity.String()),
		)
	}
	logger.Info("completed reservation expiry", slog.Int("expired", cancelled))
	return cancelled, nil
}

func (j *ReservationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationExpiry))
	}
	return slog.Default().With(slog.String("job", TaskReservationExpiry))
}

func (j *ReservationExpiryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReservationExpiryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
