package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `stock_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, "stock_http_requests_in_flight 0")
	require.Contains(t, body, "go_goroutines")
	require.Contains(t, body, `stock_http_request_duration_seconds_bucket{route="/test"`)
}

func TestStockMetricsCountsMovementsAndRejections(t *testing.T) {
	metrics := NewMetrics()
	sm := NewStockMetrics(metrics.Registerer())

	sm.MovementRecorded(stock.MovementTransfer, decimal.NewFromInt(4))
	sm.MovementRecorded(stock.MovementTransfer, decimal.NewFromInt(6))
	sm.OperationRejected("reserve", &shared.InsufficientStockError{})
	sm.OperationRejected("ship", fmt.Errorf("wrap: %w", shared.ErrInvalidState))
	sm.SetViolations("negative_available", 2)

	body := scrape(t, metrics)
	require.Contains(t, body, `stock_movements_total{type="TRANSFER"} 2`)
	require.Contains(t, body, `stock_movement_quantity_total{type="TRANSFER"} 10`)
	require.Contains(t, body, `stock_rejected_operations_total{kind="insufficient_stock",operation="reserve"} 1`)
	require.Contains(t, body, `stock_rejected_operations_total{kind="invalid_state",operation="ship"} 1`)
	require.Contains(t, body, `stock_integrity_violations{check="negative_available"} 2`)
}

func TestNilStockMetricsIsNoop(t *testing.T) {
	var sm *StockMetrics
	require.NotPanics(t, func() {
		sm.MovementRecorded(stock.MovementIn, decimal.NewFromInt(1))
		sm.OperationRejected("reserve", shared.ErrNotFound)
		sm.SetViolations("x", 1)
	})
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "not_found", ErrorKind(shared.NotFoundf("product %d", 1)))
	require.Equal(t, "invalid_request", ErrorKind(shared.InvalidRequestf("bad")))
	require.Equal(t, "internal", ErrorKind(fmt.Errorf("boom")))
}
