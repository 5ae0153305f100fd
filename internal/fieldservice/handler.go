package fieldservice

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// Handler exposes service form endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers service form routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermServiceFormView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermServiceFormEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/materials", h.addMaterial)
		r.Delete("/{id}/materials/{itemID}", h.removeMaterial)
	})
	r.With(h.rbac.RequireAll(shared.PermServiceFormComplete)).Post("/{id}/complete", h.complete)
}

type createRequest struct {
	ProjectID          int64  `json:"project_id" validate:"required,gt=0"`
	VehicleWarehouseID int64  `json:"vehicle_warehouse_id" validate:"gte=0"`
	TechnicianID       int64  `json:"technician_id" validate:"gte=0"`
	WorkDescription    string `json:"work_description" validate:"max=4000"`
	Notes              string `json:"notes" validate:"max=2000"`
}

type updateRequest struct {
	WorkDescription *string `json:"work_description" validate:"omitempty,max=4000"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
	TechnicianID    *int64  `json:"technician_id" validate:"omitempty,gt=0"`
}

type materialRequest struct {
	ProductID           int64           `json:"product_id" validate:"required,gt=0"`
	Quantity            decimal.Decimal `json:"quantity"`
	DeliveredToCustomer *bool           `json:"delivered_to_customer"`
	Notes               string          `json:"notes" validate:"max=1000"`
}

type completeRequest struct {
	WorkPerformed  string `json:"work_performed" validate:"max=4000"`
	CustomerName   string `json:"customer_name" validate:"max=200"`
	CustomerSigned bool   `json:"customer_signed"`
	SignatureURL   string `json:"signature_url" validate:"omitempty,url,max=500"`
}

type completeResponse struct {
	Form      Form             `json:"service_form"`
	Movements []stock.Movement `json:"movements"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Page: shared.PageFromQuery(r.URL.Query())}
	var err error
	if filter.ProjectID, err = httpx.QueryID(r, "project_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.VehicleWarehouseID, err = httpx.QueryID(r, "vehicle_warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Status, err = ParseStatus(r.URL.Query().Get("status")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	forms, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list service forms failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, forms)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	form, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get service form failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	form, err := h.service.Create(r.Context(), CreateInput{
		ProjectID:          req.ProjectID,
		VehicleWarehouseID: req.VehicleWarehouseID,
		TechnicianID:       req.TechnicianID,
		WorkDescription:    req.WorkDescription,
		Notes:              req.Notes,
		ActorID:            actorID(r),
	})
	if err != nil {
		h.fail(w, r, "create service form failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, form)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
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
	form, err := h.service.Update(r.Context(), id, UpdateInput{
		WorkDescription: req.WorkDescription,
		Notes:           req.Notes,
		TechnicianID:    req.TechnicianID,
		ActorID:         actorID(r),
	})
	if err != nil {
		h.fail(w, r, "update service form failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) addMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req materialRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	delivered := true
	if req.DeliveredToCustomer != nil {
		delivered = *req.DeliveredToCustomer
	}
	form, err := h.service.AddMaterial(r.Context(), id, MaterialInput{
		ProductID:           req.ProductID,
		Quantity:            req.Quantity,
		DeliveredToCustomer: delivered,
		Notes:               req.Notes,
		ActorID:             actorID(r),
	})
	if err != nil {
		h.fail(w, r, "add material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) removeMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.PathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	form, err := h.service.RemoveMaterial(r.Context(), id, itemID, actorID(r))
	if err != nil {
		h.fail(w, r, "remove material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req completeRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	form, movements, err := h.service.Complete(r.Context(), id, CompleteInput{
		WorkPerformed:  req.WorkPerformed,
		CustomerName:   req.CustomerName,
		CustomerSigned: req.CustomerSigned,
		SignatureURL:   req.SignatureURL,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.fail(w, r, "complete service form failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, completeResponse{Form: form, Movements: movements})
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
