package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// StockMetrics exports ledger outcomes. It satisfies stock.Observer.
type StockMetrics struct {
	movements     *prometheus.CounterVec
	movedQuantity *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	violations    *prometheus.GaugeVec
}

// NewStockMetrics registers the stock collectors on reg.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	m := &StockMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_movements_total",
			Help: "Stock movements recorded by type.",
		}, []string{"type"}),
		movedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_movement_quantity_total",
			Help: "Sum of moved quantity by movement type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_rejected_operations_total",
			Help: "Rejected stock operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stock_integrity_violations",
			Help: "Violations found by the last integrity scan, by check.",
		}, []string{"check"}),
	}
	if reg != nil {
		reg.MustRegister(m.movements, m.movedQuantity, m.rejections, m.violations)
	}
	return m
}

// MovementRecorded counts one appended movement.
func (m *StockMetrics) MovementRecorded(t stock.MovementType, qty decimal.Decimal) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(t)).Inc()
	m.movedQuantity.WithLabelValues(string(t)).Add(qty.InexactFloat64())
}

// OperationRejected counts a failed operation under its error kind.
func (m *StockMetrics) OperationRejected(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejections.WithLabelValues(operation, ErrorKind(err)).Inc()
}

// SetViolations stores the result of one integrity check.
func (m *StockMetrics) SetViolations(check string, count int) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(check).Set(float64(count))
}

// ErrorKind maps an error onto the label used by rejection metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, shared.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, shared.ErrDuplicateRequest):
		return "duplicate"
	default:
		return "internal"
	}
}
