package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrity scans the ledger for rows and documents that drifted.
	TaskStockIntegrity = "stock:integrity"
	// TaskReservationExpiry cancels ACTIVE reservations older than the TTL.
	TaskReservationExpiry = "stock:reservation-expiry"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockIntegrityPayload configures one integrity scan.
type StockIntegrityPayload struct {
	// InTransitHours flags delivery notes IN_TRANSIT for longer than this.
	InTransitHours int `json:"in_transit_hours"`
}

// NewStockIntegrityTask constructs the integrity scan task.
func NewStockIntegrityTask(inTransit time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StockIntegrityPayload{InTransitHours: int(inTransit / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// ReservationExpiryPayload configures one expiry sweep.
type ReservationExpiryPayload struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

// NewReservationExpiryTask constructs the expiry task.
func NewReservationExpiryTask(ttl time.Duration) (*asynq.Task, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("jobs: reservation ttl must be positive, got %s", ttl)
	}
	body, err := json.Marshal(ReservationExpiryPayload{TTLSeconds: int64(ttl / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationExpiry, body, asynq.Queue(QueueDefault)), nil
}
