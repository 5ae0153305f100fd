package products

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(internalShared.PermProductView, internalShared.PermProductManage))
		r.Get("/", h.List)
		r.Get("/{id}", h.Show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(internalShared.PermProductManage))
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Deactivate)
	})
}

type createRequest struct {
	SKU   string          `json:"sku" validate:"required,max=64"`
	Name  string          `json:"name" validate:"required,max=255"`
	Unit  string          `json:"unit" validate:"max=16"`
	Cost  decimal.Decimal `json:"cost"`
	IsBOM bool            `json:"is_bom"`
}

type updateRequest struct {
	SKU   string          `json:"sku" validate:"max=64"`
	Name  string          `json:"name" validate:"required,max=255"`
	Unit  string          `json:"unit" validate:"max=16"`
	Cost  decimal.Decimal `json:"cost"`
	IsBOM bool            `json:"is_bom"`
}

type listResponse struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, total, err := h.service.List(r.Context(), shared.FiltersFromQuery(r.URL.Query()))
	if err != nil {
		h.fail(w, r, "list products failed", err)
		return
	}
	if items == nil {
		items = []Product{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get product failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), Product{
		SKU:   req.SKU,
		Name:  req.Name,
		Unit:  req.Unit,
		Cost:  req.Cost,
		IsBOM: req.IsBOM,
	}, actorID(r))
	if err != nil {
		h.fail(w, r, "create product failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), id, UpdateInput{
		SKU:   req.SKU,
		Name:  req.Name,
		Unit:  req.Unit,
		Cost:  req.Cost,
		IsBOM: req.IsBOM,
	}, actorID(r))
	if err != nil {
		h.fail(w, r, "update product failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, r, "deactivate product failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if internalShared.IsDomainError(err) {
		h.logger.Info(msg, slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
	} else {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	actor, _ := internalShared.ActorFromContext(r.Context())
	return actor.ID
}
