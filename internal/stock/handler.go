package stock

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/", h.summary)
		r.Get("/balance", h.balance)
		r.Get("/check-availability", h.checkAvailability)
		r.Get("/movements", h.listMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockMovement))
		r.Post("/movements", h.postMovement)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockTransfer))
		r.Post("/transfers", h.transfer)
	})
	r.Route("/reservations", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermReservationView)).Get("/", h.listReservations)
		r.With(h.rbac.RequireAny(shared.PermReservationView)).Get("/{id}", h.getReservation)
		r.With(h.rbac.RequireAll(shared.PermReservationCreate)).Post("/", h.reserve)
		r.With(h.rbac.RequireAll(shared.PermReservationFulfill)).Post("/{id}/fulfill", h.fulfill)
		r.With(h.rbac.RequireAll(shared.PermReservationCancel)).Delete("/{id}", h.cancel)
	})
}

type movementRequest struct {
	MovementType    string           `json:"movement_type" validate:"required"`
	ProjectID       int64            `json:"project_id" validate:"required,gt=0"`
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64            `json:"from_warehouse_id" validate:"gte=0"`
	ToWarehouseID   int64            `json:"to_warehouse_id" validate:"gte=0"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	ReferenceType   string           `json:"reference_type" validate:"max=64"`
	ReferenceID     int64            `json:"reference_id" validate:"gte=0"`
	Notes           string           `json:"notes" validate:"max=1000"`
}

type transferRequest struct {
	ProjectID       int64           `json:"project_id" validate:"required,gt=0"`
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64           `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64           `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	Notes           string          `json:"notes" validate:"max=1000"`
}

type reserveRequest struct {
	ProjectID   int64           `json:"project_id" validate:"required,gt=0"`
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	Notes       string          `json:"notes" validate:"max=1000"`
}

type fulfillResponse struct {
	Reservation Reservation `json:"reservation"`
	Movement    Movement    `json:"movement"`
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.QueryID(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.QueryID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Summary(r.Context(), SummaryFilter{
		WarehouseID:  warehouseID,
		ProductID:    productID,
		OnlyPositive: r.URL.Query().Get("only_positive") == "true",
	})
	if err != nil {
		h.fail(w, r, "stock summary failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.QueryID(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.QueryID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.service.Balance(r.Context(), warehouseID, productID)
	if err != nil {
		h.fail(w, r, "stock balance failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"warehouse_id":       bal.WarehouseID,
		"product_id":         bal.ProductID,
		"quantity":           bal.Quantity,
		"reserved_quantity":  bal.Reserved,
		"available_quantity": bal.Available(),
	})
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryID(r, "product_id")
	if err != nil || productID == 0 {
		httpx.RespondError(w, shared.InvalidRequestf("product_id required"))
		return
	}
	warehouseID, err := httpx.QueryID(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty := decimal.Zero
	if raw := strings.TrimSpace(r.URL.Query().Get("quantity")); raw != "" {
		qty, err = decimal.NewFromString(raw)
		if err != nil {
			httpx.RespondError(w, shared.InvalidRequestf("invalid quantity"))
			return
		}
	}
	result, err := h.service.CheckAvailability(r.Context(), productID, warehouseID, qty)
	if err != nil {
		h.fail(w, r, "check availability failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{Page: shared.PageFromQuery(r.URL.Query())}
	var err error
	for name, target := range map[string]*int64{
		"project_id":   &filter.ProjectID,
		"product_id":   &filter.ProductID,
		"warehouse_id": &filter.WarehouseID,
		"reference_id": &filter.ReferenceID,
	} {
		if *target, err = httpx.QueryID(r, name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if raw := r.URL.Query().Get("movement_type"); raw != "" {
		if filter.Type, err = ParseMovementType(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	filter.ReferenceType = r.URL.Query().Get("reference_type")
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list movements failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mvType, err := ParseMovementType(req.MovementType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.PostMovement(r.Context(), ManualMovementInput{
		Type:            mvType,
		ProjectID:       req.ProjectID,
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
		Notes:           req.Notes,
		ActorID:         actorID(r),
		IdempotencyKey:  idempotencyKey(r),
	})
	if err != nil {
		h.fail(w, r, "post movement failed", err)
		return
	}
	h.logger.Info("stock movement posted",
		slog.Int64("movement_id", mv.ID),
		slog.String("type", string(mv.Type)),
		slog.Int64("product_id", mv.ProductID),
		slog.String("quantity", mv.Quantity.String()))
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.Transfer(r.Context(), TransferInput{
		ProjectID:       req.ProjectID,
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Notes:           req.Notes,
		ActorID:         actorID(r),
		IdempotencyKey:  idempotencyKey(r),
	})
	if err != nil {
		h.fail(w, r, "transfer failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	filter := ReservationFilter{Page: shared.PageFromQuery(r.URL.Query())}
	var err error
	for name, target := range map[string]*int64{
		"project_id":   &filter.ProjectID,
		"product_id":   &filter.ProductID,
		"warehouse_id": &filter.WarehouseID,
	} {
		if *target, err = httpx.QueryID(r, name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if filter.Status, err = ParseReservationStatus(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	list, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list reservations failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get reservation failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Reserve(r.Context(), ReserveInput{
		ProjectID:      req.ProjectID,
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		ActorID:        actorID(r),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.fail(w, r, "reserve failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, mv, err := h.service.FulfillReservation(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, r, "fulfill reservation failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, fulfillResponse{Reservation: res, Movement: mv})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CancelReservation(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, r, "cancel reservation failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// fail logs unexpected errors and writes the problem response.
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

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
