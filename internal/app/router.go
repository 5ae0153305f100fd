package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/bom"
	"github.com/odyssey-erp/odyssey-stock/internal/delivery"
	"github.com/odyssey-erp/odyssey-stock/internal/fieldservice"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics

	StockHandler       *stock.Handler
	DeliveryHandler    *delivery.Handler
	ServiceFormHandler *fieldservice.Handler
	BOMHandler         *bom.Handler
	WarehouseHandler   *warehouses.Handler
	ProductHandler     *products.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Health             func(r *http.Request) error
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		if params.StockHandler != nil {
			r.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.DeliveryHandler != nil {
			r.Route("/delivery-notes", params.DeliveryHandler.MountRoutes)
		}
		if params.ServiceFormHandler != nil {
			r.Route("/service-forms", params.ServiceFormHandler.MountRoutes)
		}
		if params.BOMHandler != nil {
			r.Route("/bom", params.BOMHandler.MountRoutes)
		}
		if params.WarehouseHandler != nil {
			r.Route("/warehouses", params.WarehouseHandler.MountRoutes)
		}
		if params.ProductHandler != nil {
			r.Route("/products", params.ProductHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
	})

	return r
}
