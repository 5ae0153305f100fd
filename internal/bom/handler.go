package bom

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes BOM endpoints under /bom.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers BOM routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProductView, shared.PermBOMManage))
		r.Get("/{productID}", h.components)
		r.Get("/{productID}/availability", h.availability)
		r.Get("/{productID}/explode", h.explode)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBOMManage))
		r.Put("/{productID}", h.setComponents)
	})
}

type setComponentsRequest struct {
	Components []componentRequest `json:"components" validate:"dive"`
}

type componentRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (h *Handler) components(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.Components(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list bom components failed", err)
		return
	}
	if list == nil {
		list = []Component{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) setComponents(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setComponentsRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := make([]Component, 0, len(req.Components))
	for _, c := range req.Components {
		input = append(input, Component{ComponentID: c.ProductID, Quantity: c.Quantity})
	}
	actor, _ := shared.ActorFromContext(r.Context())
	list, err := h.service.SetComponents(r.Context(), id, actor.ID, input)
	if err != nil {
		h.fail(w, r, "set bom components failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := quantityParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.CheckAvailabilityFor(r.Context(), id, qty)
	if err != nil {
		h.fail(w, r, "bom availability failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) explode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := quantityParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	reqs, err := h.service.Explode(r.Context(), id, qty)
	if err != nil {
		h.fail(w, r, "bom explode failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reqs)
}

// quantityParam reads ?quantity=, defaulting to one unit.
func quantityParam(r *http.Request) (decimal.Decimal, error) {
	raw := r.URL.Query().Get("quantity")
	if raw == "" {
		return decimal.NewFromInt(1), nil
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, shared.InvalidRequestf("quantity %q is not a number", raw)
	}
	return qty, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if shared.IsDomainError(err) {
		h.logger.Info(msg, slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
	} else {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
