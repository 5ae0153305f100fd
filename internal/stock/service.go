package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, warehouseID, productID int64) (Balance, error)
	ListBalancesByProduct(ctx context.Context, productID int64) ([]Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	Summary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
}

// Directory resolves master data referenced by ledger operations.
// Missing records are reported as shared.ErrNotFound.
type Directory interface {
	ProjectExists(ctx context.Context, id int64) (bool, error)
	Product(ctx context.Context, id int64) (ProductRef, error)
	Warehouse(ctx context.Context, id int64) (WarehouseRef, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives ledger outcomes for metrics.
type Observer interface {
	MovementRecorded(t MovementType, qty decimal.Decimal)
	OperationRejected(operation string, err error)
}

// Service coordinates ledger, reservation and transfer operations.
type Service struct {
	repo        RepositoryPort
	dir         Directory
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	observer    Observer
	now         func() time.Time
}

// NewService builds Service. audit, idem and observer may be nil.
func NewService(repo RepositoryPort, dir Directory, audit AuditPort, idem *shared.IdempotencyStore, observer Observer) *Service {
	return &Service{repo: repo, dir: dir, audit: audit, idempotency: idem, observer: observer, now: time.Now}
}

// Balance returns the ledger row; a missing row reads as zero.
func (s *Service) Balance(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	if warehouseID <= 0 || productID <= 0 {
		return Balance{}, shared.InvalidRequestf("warehouse and product required")
	}
	bal, err := s.repo.GetBalance(ctx, warehouseID, productID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{WarehouseID: warehouseID, ProductID: productID}, nil
	}
	return bal, err
}

// Available returns quantity minus reserved for one ledger row.
func (s *Service) Available(ctx context.Context, warehouseID, productID int64) (decimal.Decimal, error) {
	bal, err := s.Balance(ctx, warehouseID, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Available(), nil
}

// Reserve places a soft hold on available stock for a project.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if err := ValidateQuantity(input.Quantity); err != nil {
		return Reservation{}, s.reject("reserve", err)
	}
	if err := s.requireProject(ctx, input.ProjectID); err != nil {
		return Reservation{}, s.reject("reserve", err)
	}
	if _, err := s.activeProduct(ctx, input.ProductID); err != nil {
		return Reservation{}, s.reject("reserve", err)
	}
	if _, err := s.activeWarehouse(ctx, input.WarehouseID); err != nil {
		return Reservation{}, s.reject("reserve", err)
	}
	var created Reservation
	err := s.once(ctx, input.IdempotencyKey, "stock.reserve", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := Hold(ctx, tx, input.WarehouseID, input.ProductID, input.Quantity); err != nil {
				return err
			}
			res, err := tx.InsertReservation(ctx, Reservation{
				ProjectID:   input.ProjectID,
				ProductID:   input.ProductID,
				WarehouseID: input.WarehouseID,
				Quantity:    input.Quantity,
				Status:      ReservationActive,
				Notes:       input.Notes,
				CreatedBy:   input.ActorID,
				CreatedAt:   s.now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("stock: insert reservation: %w", err)
			}
			created = res
			return nil
		})
	})
	if err != nil {
		return Reservation{}, s.reject("reserve", err)
	}
	s.record(ctx, input.ActorID, "stock:reserve", "stock_reservation", created.ID, map[string]any{
		"project_id":   created.ProjectID,
		"warehouse_id": created.WarehouseID,
		"product_id":   created.ProductID,
		"quantity":     created.Quantity.String(),
	})
	return created, nil
}

// CancelReservation releases an ACTIVE reservation.
func (s *Service) CancelReservation(ctx context.Context, id, actorID int64) (Reservation, error) {
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != ReservationActive {
			return shared.InvalidStatef("reservation %d is %s", id, res.Status)
		}
		if _, err := Release(ctx, tx, res.WarehouseID, res.ProductID, res.Quantity); err != nil {
			return err
		}
		now := s.now().UTC()
		res.Status = ReservationCancelled
		res.CancelledAt = &now
		return tx.UpdateReservation(ctx, res)
	})
	if err != nil {
		return Reservation{}, s.reject("cancel_reservation", err)
	}
	s.record(ctx, actorID, "stock:reservation_cancel", "stock_reservation", res.ID, map[string]any{
		"quantity": res.Quantity.String(),
	})
	return res, nil
}

// FulfillReservation consumes an ACTIVE reservation and records an OUT movement.
func (s *Service) FulfillReservation(ctx context.Context, id, actorID int64) (Reservation, Movement, error) {
	var (
		res Reservation
		mv  Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != ReservationActive {
			return shared.InvalidStatef("reservation %d is %s", id, res.Status)
		}
		if _, err := Consume(ctx, tx, res.WarehouseID, res.ProductID, res.Quantity); err != nil {
			return err
		}
		cost, err := s.unitCost(ctx, res.ProductID)
		if err != nil {
			return err
		}
		mv, err = Record(ctx, tx, MovementInput{
			ProductID:       res.ProductID,
			Type:            MovementOut,
			FromWarehouseID: res.WarehouseID,
			Quantity:        res.Quantity,
			UnitCost:        cost,
			ProjectID:       res.ProjectID,
			ReferenceType:   RefReservation,
			ReferenceID:     res.ID,
			Notes:           fmt.Sprintf("reservation %d fulfilled", res.ID),
			ActorID:         actorID,
		})
		if err != nil {
			return err
		}
		now := s.now().UTC()
		res.Status = ReservationFulfilled
		res.FulfilledAt = &now
		return tx.UpdateReservation(ctx, res)
	})
	if err != nil {
		return Reservation{}, Movement{}, s.reject("fulfill_reservation", err)
	}
	s.observe(mv)
	s.record(ctx, actorID, "stock:reservation_fulfill", "stock_reservation", res.ID, map[string]any{
		"movement_id": mv.ID,
		"quantity":    res.Quantity.String(),
	})
	return res, mv, nil
}

// GetReservation loads one reservation.
func (s *Service) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	if id <= 0 {
		return Reservation{}, shared.InvalidRequestf("invalid reservation id")
	}
	return s.repo.GetReservation(ctx, id)
}

// ListReservations lists reservations, newest first.
func (s *Service) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListReservations(ctx, filter)
}

// Transfer atomically moves available stock between two warehouses.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Movement, error) {
	if input.FromWarehouseID == input.ToWarehouseID {
		return Movement{}, s.reject("transfer", shared.InvalidRequestf("source and destination warehouse must differ"))
	}
	if err := ValidateQuantity(input.Quantity); err != nil {
		return Movement{}, s.reject("transfer", err)
	}
	if err := s.requireProject(ctx, input.ProjectID); err != nil {
		return Movement{}, s.reject("transfer", err)
	}
	product, err := s.activeProduct(ctx, input.ProductID)
	if err != nil {
		return Movement{}, s.reject("transfer", err)
	}
	for _, id := range []int64{input.FromWarehouseID, input.ToWarehouseID} {
		if _, err := s.activeWarehouse(ctx, id); err != nil {
			return Movement{}, s.reject("transfer", err)
		}
	}
	var mv Movement
	err = s.once(ctx, input.IdempotencyKey, "stock.transfer", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			// lock in warehouse order so opposite transfers cannot deadlock
			first, second := input.FromWarehouseID, input.ToWarehouseID
			if first > second {
				first, second = second, first
			}
			for _, wh := range []int64{first, second} {
				if _, err := Lock(ctx, tx, wh, input.ProductID); err != nil {
					return err
				}
			}
			if _, err := Debit(ctx, tx, input.FromWarehouseID, input.ProductID, input.Quantity, GuardAvailable); err != nil {
				return err
			}
			if _, err := Credit(ctx, tx, input.ToWarehouseID, input.ProductID, input.Quantity); err != nil {
				return err
			}
			var err error
			mv, err = Record(ctx, tx, MovementInput{
				ProductID:       input.ProductID,
				Type:            MovementTransfer,
				FromWarehouseID: input.FromWarehouseID,
				ToWarehouseID:   input.ToWarehouseID,
				Quantity:        input.Quantity,
				UnitCost:        product.Cost,
				ProjectID:       input.ProjectID,
				Notes:           input.Notes,
				ActorID:         input.ActorID,
			})
			return err
		})
	})
	if err != nil {
		return Movement{}, s.reject("transfer", err)
	}
	s.observe(mv)
	s.record(ctx, input.ActorID, "stock:transfer", "stock_movement", mv.ID, map[string]any{
		"from_warehouse_id": mv.FromWarehouseID,
		"to_warehouse_id":   mv.ToWarehouseID,
		"product_id":        mv.ProductID,
		"quantity":          mv.Quantity.String(),
	})
	return mv, nil
}

// PostMovement applies a single-warehouse movement and records it.
// TRANSFER and SERVICE are owned by Transfer and the service form workflow.
func (s *Service) PostMovement(ctx context.Context, input ManualMovementInput) (Movement, error) {
	plan, err := planManual(input)
	if err != nil {
		return Movement{}, s.reject("post_movement", err)
	}
	if err := s.requireProject(ctx, input.ProjectID); err != nil {
		return Movement{}, s.reject("post_movement", err)
	}
	product, err := s.activeProduct(ctx, input.ProductID)
	if err != nil {
		return Movement{}, s.reject("post_movement", err)
	}
	if _, err := s.activeWarehouse(ctx, plan.warehouseID); err != nil {
		return Movement{}, s.reject("post_movement", err)
	}
	cost := product.Cost
	if input.UnitCost != nil {
		cost = *input.UnitCost
	}
	var mv Movement
	err = s.once(ctx, input.IdempotencyKey, "stock.movement", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if plan.credit {
				if _, err := Credit(ctx, tx, plan.warehouseID, input.ProductID, plan.quantity); err != nil {
					return err
				}
			} else {
				if _, err := Debit(ctx, tx, plan.warehouseID, input.ProductID, plan.quantity, GuardAvailable); err != nil {
					return err
				}
			}
			var err error
			mv, err = Record(ctx, tx, MovementInput{
				ProductID:       input.ProductID,
				Type:            input.Type,
				FromWarehouseID: plan.from,
				ToWarehouseID:   plan.to,
				Quantity:        plan.quantity,
				UnitCost:        cost,
				ProjectID:       input.ProjectID,
				ReferenceType:   input.ReferenceType,
				ReferenceID:     input.ReferenceID,
				Notes:           input.Notes,
				ActorID:         input.ActorID,
			})
			return err
		})
	})
	if err != nil {
		return Movement{}, s.reject("post_movement", err)
	}
	s.observe(mv)
	s.record(ctx, input.ActorID, fmt.Sprintf("stock:%s", mv.Type), "stock_movement", mv.ID, map[string]any{
		"warehouse_id": plan.warehouseID,
		"product_id":   mv.ProductID,
		"quantity":     mv.Quantity.String(),
	})
	return mv, nil
}

// ListMovements returns movement history, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.InvalidRequestf("unknown movement type %q", filter.Type)
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListMovements(ctx, filter)
}

// Summary lists ledger rows with display names.
func (s *Service) Summary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	return s.repo.Summary(ctx, filter)
}

// CheckAvailability reports available stock for a product per warehouse and
// in total. When warehouseID is set, Available refers to that warehouse;
// otherwise it equals TotalAvailable.
func (s *Service) CheckAvailability(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (Availability, error) {
	if _, err := s.dir.Product(ctx, productID); err != nil {
		return Availability{}, err
	}
	if qty.IsNegative() {
		return Availability{}, shared.InvalidRequestf("quantity must not be negative")
	}
	balances, err := s.repo.ListBalancesByProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	result := Availability{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Requested:   qty,
		Warehouses:  make([]WarehouseAvailability, 0, len(balances)),
	}
	for _, bal := range balances {
		avail := bal.Available()
		result.TotalAvailable = result.TotalAvailable.Add(avail)
		if bal.WarehouseID == warehouseID {
			result.Available = avail
		}
		result.Warehouses = append(result.Warehouses, WarehouseAvailability{
			WarehouseID: bal.WarehouseID,
			Quantity:    bal.Quantity,
			Reserved:    bal.Reserved,
			Available:   avail,
		})
	}
	if warehouseID == 0 {
		result.Available = result.TotalAvailable
	}
	result.Sufficient = result.Available.GreaterThanOrEqual(qty)
	return result, nil
}

type manualPlan struct {
	warehouseID int64
	from, to    int64
	quantity    decimal.Decimal
	credit      bool
}

func planManual(input ManualMovementInput) (manualPlan, error) {
	if input.Quantity.IsZero() {
		return manualPlan{}, shared.InvalidRequestf("quantity must be non zero")
	}
	if input.Type != MovementAdjustment && input.Quantity.IsNegative() {
		return manualPlan{}, shared.InvalidRequestf("quantity must be positive")
	}
	if err := ValidateQuantity(input.Quantity.Abs()); err != nil {
		return manualPlan{}, err
	}
	switch input.Type {
	case MovementIn, MovementProduction:
		if input.ToWarehouseID <= 0 {
			return manualPlan{}, shared.InvalidRequestf("%s movement needs to_warehouse_id", input.Type)
		}
		return manualPlan{warehouseID: input.ToWarehouseID, to: input.ToWarehouseID, quantity: input.Quantity, credit: true}, nil
	case MovementOut, MovementConsumption:
		if input.FromWarehouseID <= 0 {
			return manualPlan{}, shared.InvalidRequestf("%s movement needs from_warehouse_id", input.Type)
		}
		return manualPlan{warehouseID: input.FromWarehouseID, from: input.FromWarehouseID, quantity: input.Quantity}, nil
	case MovementAdjustment:
		wh := input.ToWarehouseID
		if wh == 0 {
			wh = input.FromWarehouseID
		}
		if wh <= 0 || (input.ToWarehouseID != 0 && input.FromWarehouseID != 0) {
			return manualPlan{}, shared.InvalidRequestf("adjustment needs exactly one warehouse")
		}
		if input.Quantity.IsPositive() {
			return manualPlan{warehouseID: wh, to: wh, quantity: input.Quantity, credit: true}, nil
		}
		return manualPlan{warehouseID: wh, from: wh, quantity: input.Quantity.Neg()}, nil
	case MovementTransfer, MovementService:
		return manualPlan{}, shared.InvalidRequestf("%s movements are posted by their own workflow", input.Type)
	default:
		return manualPlan{}, shared.InvalidRequestf("unknown movement type %q", input.Type)
	}
}

func (s *Service) requireProject(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.InvalidRequestf("project required")
	}
	ok, err := s.dir.ProjectExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotFoundf("project %d", id)
	}
	return nil
}

func (s *Service) activeProduct(ctx context.Context, id int64) (ProductRef, error) {
	if id <= 0 {
		return ProductRef{}, shared.InvalidRequestf("product required")
	}
	p, err := s.dir.Product(ctx, id)
	if err != nil {
		return ProductRef{}, err
	}
	if !p.IsActive {
		return ProductRef{}, shared.InvalidStatef("product %d is inactive", id)
	}
	return p, nil
}

func (s *Service) activeWarehouse(ctx context.Context, id int64) (WarehouseRef, error) {
	if id <= 0 {
		return WarehouseRef{}, shared.InvalidRequestf("warehouse required")
	}
	w, err := s.dir.Warehouse(ctx, id)
	if err != nil {
		return WarehouseRef{}, err
	}
	if !w.IsActive {
		return WarehouseRef{}, shared.InvalidStatef("warehouse %d is inactive", id)
	}
	return w, nil
}

func (s *Service) unitCost(ctx context.Context, productID int64) (decimal.Decimal, error) {
	p, err := s.dir.Product(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Cost, nil
}

// once runs fn guarded by an idempotency key; the key is released when fn fails.
func (s *Service) once(ctx context.Context, key, module string, fn func() error) error {
	if key == "" || s.idempotency == nil {
		return fn()
	}
	if err := shared.ValidateIdempotencyKey(key); err != nil {
		return err
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = s.idempotency.Delete(ctx, key, module)
		return err
	}
	return nil
}

func (s *Service) observe(mv Movement) {
	if s.observer != nil {
		s.observer.MovementRecorded(mv.Type, mv.Quantity)
	}
}

func (s *Service) reject(op string, err error) error {
	if s.observer != nil {
		s.observer.OperationRejected(op, err)
	}
	return err
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: shared.EntityID(id),
		Meta:     meta,
	})
}
