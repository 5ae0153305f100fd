package warehouses

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers warehouse routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(internalShared.PermWarehouseView, internalShared.PermWarehouseManage))
		r.Get("/", h.List)
		r.Get("/{id}", h.Show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(internalShared.PermWarehouseManage))
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Post("/{id}/deactivate", h.Deactivate)
		r.Delete("/{id}", h.Delete)
	})
}

type warehouseRequest struct {
	Code         string `json:"code" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=128"`
	Type         string `json:"warehouse_type" validate:"required,oneof=PHYSICAL VIRTUAL"`
	Address      string `json:"address" validate:"max=512"`
	VehiclePlate string `json:"vehicle_plate" validate:"max=32"`
	DriverID     int64  `json:"driver_id" validate:"gte=0"`
}

func (req warehouseRequest) model() Warehouse {
	return Warehouse{
		Code:         req.Code,
		Name:         req.Name,
		Type:         stock.WarehouseType(req.Type),
		Address:      req.Address,
		VehiclePlate: req.VehiclePlate,
		DriverID:     req.DriverID,
	}
}

type listResponse struct {
	Items []Warehouse `json:"items"`
	Total int         `json:"total"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, total, err := h.service.List(r.Context(), shared.FiltersFromQuery(r.URL.Query()))
	if err != nil {
		h.fail(w, r, "list warehouses failed", err)
		return
	}
	if items == nil {
		items = []Warehouse{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouse, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get warehouse failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req warehouseRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), req.model(), actorID(r))
	if err != nil {
		h.fail(w, r, "create warehouse failed", err)
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
	var req warehouseRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), id, req.model(), actorID(r))
	if err != nil {
		h.fail(w, r, "update warehouse failed", err)
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
		h.fail(w, r, "deactivate warehouse failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete hard-deletes; ?force=true also purges stocked ledger rows.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.service.HardDelete(r.Context(), id, actorID(r), force); err != nil {
		h.fail(w, r, "delete warehouse failed", err)
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
