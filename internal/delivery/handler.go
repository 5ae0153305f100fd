package delivery

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// Handler manages delivery note endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Delivery note routes - View
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDeliveryNoteView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})

	// Delivery note routes - Create
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryNoteCreate))
		r.Post("/", h.create)
	})

	// Delivery note routes - Edit
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryNoteEdit))
		r.Patch("/{id}", h.updateNotes)
		r.Delete("/{id}", h.delete)
	})

	// Delivery note routes - Ship
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryNoteShip))
		r.Post("/{id}/ship", h.ship)
	})

	// Delivery note routes - Deliver
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryNoteDeliver))
		r.Post("/{id}/deliver", h.deliver)
	})
}

type createRequest struct {
	ProjectID       int64         `json:"project_id" validate:"required,gt=0"`
	FromWarehouseID int64         `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64         `json:"to_warehouse_id" validate:"required,gt=0"`
	Notes           string        `json:"notes" validate:"max=2000"`
	Items           []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notes     string          `json:"notes" validate:"max=1000"`
}

type updateNotesRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type deliverResponse struct {
	Note      Note             `json:"delivery_note"`
	Movements []stock.Movement `json:"movements"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.QueryID(r, "project_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	notes, err := h.service.List(r.Context(), ListFilter{
		ProjectID: projectID,
		Status:    status,
		Page:      shared.PageFromQuery(r.URL.Query()),
	})
	if err != nil {
		h.fail(w, r, "list delivery notes failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, notes)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get delivery note failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		ProjectID:       req.ProjectID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Notes:           req.Notes,
		ActorID:         actorID(r),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, Notes: item.Notes})
	}
	note, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, "create delivery note failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) updateNotes(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateNotesRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.service.UpdateNotes(r.Context(), id, actorID(r), req.Notes)
	if err != nil {
		h.fail(w, r, "update delivery note failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, r, "delete delivery note failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.service.Ship(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, r, "ship delivery note failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, movements, err := h.service.Deliver(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, r, "deliver delivery note failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, deliverResponse{Note: note, Movements: movements})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if shared.IsDomainError(err) {
		h.logger.Info(msg, slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
	} else {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.ID
}
