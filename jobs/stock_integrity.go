package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// Integrity check names, also used as the violations gauge label.
const (
	CheckLedgerBounds      = "ledger_bounds"
	CheckReservationDrift  = "reservation_drift"
	CheckStaleInTransit    = "stale_in_transit"
	defaultInTransitWindow = 72 * time.Hour
)

// LedgerViolation is a ledger row outside 0 <= reserved <= quantity.
type LedgerViolation struct {
	WarehouseID int64
	ProductID   int64
	Quantity    decimal.Decimal
	Reserved    decimal.Decimal
}

// ReservationDrift is a ledger row whose reserved quantity differs from the
// sum of its ACTIVE reservations.
type ReservationDrift struct {
	WarehouseID int64
	ProductID   int64
	Reserved    decimal.Decimal
	Active      decimal.Decimal
}

// StaleNote is a delivery note stuck IN_TRANSIT.
type StaleNote struct {
	ID        int64
	Number    string
	ShippedAt time.Time
}

// IntegrityStore runs the read-only integrity queries.
type IntegrityStore interface {
	LedgerViolations(ctx context.Context) ([]LedgerViolation, error)
	ReservationDrift(ctx context.Context) ([]ReservationDrift, error)
	StaleInTransit(ctx context.Context, shippedBefore time.Time) ([]StaleNote, error)
}

// ViolationSink receives the violation count of each check.
type ViolationSink interface {
	SetViolations(check string, count int)
}

// IntegrityReport is the outcome of one scan.
type IntegrityReport struct {
	Ledger       []LedgerViolation
	Reservations []ReservationDrift
	InTransit    []StaleNote
}

// StockIntegrityJob scans the ledger for violations and exports the counts.
type StockIntegrityJob struct {
	Store   IntegrityStore
	Sink    ViolationSink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStockIntegrityJob initialises the integrity scan handler.
func NewStockIntegrityJob(store IntegrityStore, sink ViolationSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockIntegrityJob {
	return &StockIntegrityJob{
		Store:   store,
		Sink:    sink,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *StockIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("stock integrity: handler not configured")
	}
	var payload StockIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	window := defaultInTransitWindow
	if payload.InTransitHours > 0 {
		window = time.Duration(payload.InTransitHours) * time.Hour
	}

	start := j.now()
	tracker := j.metrics().Track(TaskStockIntegrity)
	logger := j.logger().With(slog.Duration("in_transit_window", window))
	logger.Info("starting stock integrity scan")

	report, err := j.Scan(ctx, start.Add(-window))
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return tracker.End(err)
	}

	for _, v := range report.Ledger {
		logger.Warn("ledger row out of bounds",
			slog.Int64("warehouse_id", v.WarehouseID),
			slog.Int64("product_id", v.ProductID),
			slog.String("quantity", v.Quantity.String()),
			slog.String("reserved", v.Reserved.String()),
		)
	}
	for _, d := range report.Reservations {
		logger.Warn("reserved quantity drifted from active reservations",
			slog.Int64("warehouse_id", d.WarehouseID),
			slog.Int64("product_id", d.ProductID),
			slog.String("reserved", d.Reserved.String()),
			slog.String("active", d.Active.String()),
		)
	}
	for _, n := range report.InTransit {
		logger.Warn("delivery note stuck in transit",
			slog.Int64("delivery_note_id", n.ID),
			slog.String("note_number", n.Number),
			slog.Time("shipped_at", n.ShippedAt),
		)
	}
	if j.Sink != nil {
		j.Sink.SetViolations(CheckLedgerBounds, len(report.Ledger))
		j.Sink.SetViolations(CheckReservationDrift, len(report.Reservations))
		j.Sink.SetViolations(CheckStaleInTransit, len(report.InTransit))
	}

	logger.Info("completed stock integrity scan",
		slog.Int(CheckLedgerBounds, len(report.Ledger)),
		slog.Int(CheckReservationDrift, len(report.Reservations)),
		slog.Int(CheckStaleInTransit, len(report.InTransit)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

// Scan runs the three checks concurrently.
func (j *StockIntegrityJob) Scan(ctx context.Context, shippedBefore time.Time) (IntegrityReport, error) {
	var report IntegrityReport
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Ledger, err = j.Store.LedgerViolations(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.Reservations, err = j.Store.ReservationDrift(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.InTransit, err = j.Store.StaleInTransit(ctx, shippedBefore)
		return err
	})
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}

func (j *StockIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskStockIntegrity))
}

func (j *StockIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StockIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// PGIntegrityStore runs the integrity queries against PostgreSQL.
type PGIntegrityStore struct {
	Pool *pgxpool.Pool
}

func (s PGIntegrityStore) LedgerViolations(ctx context.Context) ([]LedgerViolation, error) {
	rows, err := s.Pool.Query(ctx, `SELECT warehouse_id, product_id, quantity, reserved_quantity
FROM warehouse_stock
WHERE quantity < 0 OR reserved_quantity < 0 OR reserved_quantity > quantity
ORDER BY warehouse_id, product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerViolation
	for rows.Next() {
		var v LedgerViolation
		if err := rows.Scan(&v.WarehouseID, &v.ProductID, &v.Quantity, &v.Reserved); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s PGIntegrityStore) ReservationDrift(ctx context.Context) ([]ReservationDrift, error) {
	rows, err := s.Pool.Query(ctx, `SELECT s.warehouse_id, s.product_id, s.reserved_quantity, COALESCE(r.active, 0)
FROM warehouse_stock s
LEFT JOIN (
    SELECT warehouse_id, product_id, SUM(quantity) AS active
    FROM stock_reservations
    WHERE status = 'ACTIVE'
    GROUP BY warehouse_id, product_id
) r ON r.warehouse_id = s.warehouse_id AND r.product_id = s.product_id
WHERE s.reserved_quantity <> COALESCE(r.active, 0)
ORDER BY s.warehouse_id, s.product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReservationDrift
	for rows.Next() {
		var d ReservationDrift
		if err := rows.Scan(&d.WarehouseID, &d.ProductID, &d.Reserved, &d.Active); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s PGIntegrityStore) StaleInTransit(ctx context.Context, shippedBefore time.Time) ([]StaleNote, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, note_number, shipped_at
FROM delivery_notes
WHERE status = 'IN_TRANSIT' AND shipped_at < $1
ORDER BY shipped_at`, shippedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StaleNote
	for rows.Next() {
		var n StaleNote
		if err := rows.Scan(&n.ID, &n.Number, &n.ShippedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
