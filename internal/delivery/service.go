package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// DefaultNumberRetries bounds how often Create retries a colliding note number.
const DefaultNumberRetries = 3

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetNote(ctx context.Context, id int64) (Note, error)
	ListNotes(ctx context.Context, filter ListFilter) ([]Note, error)
}

// TxRepository exposes transactional operations. Ledger writes share the
// note's transaction through the embedded stock.LedgerTx.
type TxRepository interface {
	stock.LedgerTx
	LastNumber(ctx context.Context, year int) (string, error)
	InsertNote(ctx context.Context, note Note) (Note, error)
	GetNoteForUpdate(ctx context.Context, id int64) (Note, error)
	// Transition moves the note from t.From to t.To; a note no longer in
	// t.From fails with shared.ErrInvalidState.
	Transition(ctx context.Context, id int64, t Transition) error
	UpdateNotes(ctx context.Context, id int64, notes string) error
	DeleteNote(ctx context.Context, id int64) error
}

// Ledger reads non-locking availability for pre-checks.
type Ledger interface {
	Available(ctx context.Context, warehouseID, productID int64) (decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides business logic for delivery notes.
type Service struct {
	repo          RepositoryPort
	dir           stock.Directory
	ledger        Ledger
	audit         AuditPort
	idempotency   *shared.IdempotencyStore
	observer      stock.Observer
	numberRetries int
	now           func() time.Time
}

// NewService constructs a delivery service. audit, idem and observer may be nil.
func NewService(repo RepositoryPort, dir stock.Directory, ledger Ledger, audit AuditPort, idem *shared.IdempotencyStore, observer stock.Observer) *Service {
	return &Service{
		repo:          repo,
		dir:           dir,
		ledger:        ledger,
		audit:         audit,
		idempotency:   idem,
		observer:      observer,
		numberRetries: DefaultNumberRetries,
		now:           time.Now,
	}
}

// SetNumberRetries overrides the note number retry budget.
func (s *Service) SetNumberRetries(n int) {
	if n > 0 {
		s.numberRetries = n
	}
}

// ============================================================================
// DELIVERY NOTE OPERATIONS
// ============================================================================

// Create validates and stores a PENDING note. Stock is not touched.
func (s *Service) Create(ctx context.Context, input CreateInput) (Note, error) {
	if err := s.validateCreate(ctx, input); err != nil {
		return Note{}, s.reject("delivery_create", err)
	}
	var created Note
	err := s.once(ctx, input.IdempotencyKey, func() error {
		var err error
		for attempt := 0; attempt < s.numberRetries; attempt++ {
			created, err = s.insert(ctx, input)
			if !errors.Is(err, ErrNumberTaken) {
				return err
			}
		}
		return fmt.Errorf("delivery: allocate note number after %d attempts: %w", s.numberRetries, err)
	})
	if err != nil {
		return Note{}, s.reject("delivery_create", err)
	}
	s.record(ctx, input.ActorID, "delivery:create", created.ID, map[string]any{
		"note_number": created.Number,
		"items":       len(created.Items),
	})
	return created, nil
}

func (s *Service) insert(ctx context.Context, input CreateInput) (Note, error) {
	var created Note
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		last, err := tx.LastNumber(ctx, now.Year())
		if err != nil {
			return fmt.Errorf("delivery: last note number: %w", err)
		}
		number, err := shared.NextDocNumber(shared.PrefixDeliveryNote, now.Year(), last)
		if err != nil {
			return err
		}
		note := Note{
			Number:          number,
			ProjectID:       input.ProjectID,
			FromWarehouseID: input.FromWarehouseID,
			ToWarehouseID:   input.ToWarehouseID,
			Status:          StatusPending,
			Notes:           strings.TrimSpace(input.Notes),
			CreatedBy:       input.ActorID,
			CreatedAt:       now,
		}
		for _, item := range input.Items {
			note.Items = append(note.Items, Item{ProductID: item.ProductID, Quantity: item.Quantity, Notes: item.Notes})
		}
		created, err = tx.InsertNote(ctx, note)
		return err
	})
	return created, err
}

func (s *Service) validateCreate(ctx context.Context, input CreateInput) error {
	if input.ActorID <= 0 {
		return shared.InvalidRequestf("actor required")
	}
	if len(input.Items) == 0 {
		return shared.InvalidRequestf("delivery note needs at least one item")
	}
	if input.ProjectID <= 0 {
		return shared.InvalidRequestf("project required")
	}
	ok, err := s.dir.ProjectExists(ctx, input.ProjectID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotFoundf("project %d", input.ProjectID)
	}
	for _, id := range []int64{input.FromWarehouseID, input.ToWarehouseID} {
		if id <= 0 {
			return shared.InvalidRequestf("source and destination warehouse required")
		}
		if err := s.activeWarehouse(ctx, id); err != nil {
			return err
		}
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return shared.InvalidRequestf("source and destination warehouse must differ")
	}

	totals := make(map[int64]decimal.Decimal)
	order := make([]int64, 0, len(input.Items))
	for i, item := range input.Items {
		if err := stock.ValidateQuantity(item.Quantity); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		product, err := s.dir.Product(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return shared.InvalidStatef("product %d is inactive", item.ProductID)
		}
		if _, seen := totals[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		totals[item.ProductID] = totals[item.ProductID].Add(item.Quantity)
	}
	for _, productID := range order {
		available, err := s.ledger.Available(ctx, input.FromWarehouseID, productID)
		if err != nil {
			return err
		}
		if available.LessThan(totals[productID]) {
			return &shared.InsufficientStockError{
				WarehouseID: input.FromWarehouseID,
				ProductID:   productID,
				Available:   available,
				Requested:   totals[productID],
			}
		}
	}
	return nil
}

// Ship debits every line from the source warehouse against available stock
// and moves the note to IN_TRANSIT. The source must still be active. Any
// shortfall leaves everything unchanged.
func (s *Service) Ship(ctx context.Context, id, actorID int64) (Note, error) {
	var note Note
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		note, err = tx.GetNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !note.Status.CanShip() {
			return shared.InvalidStatef("delivery note %s is %s", note.Number, note.Status)
		}
		if err := s.activeWarehouse(ctx, note.FromWarehouseID); err != nil {
			return err
		}
		lines := make([]stock.Line, 0, len(note.Items))
		for _, item := range note.Items {
			lines = append(lines, stock.Line{WarehouseID: note.FromWarehouseID, ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := stock.DebitAll(ctx, tx, lines, stock.GuardAvailable); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.Transition(ctx, id, Transition{From: StatusPending, To: StatusInTransit, At: now, By: actorID}); err != nil {
			return err
		}
		note.Status = StatusInTransit
		note.ShippedAt = &now
		note.ShippedBy = &actorID
		return nil
	})
	if err != nil {
		return Note{}, s.reject("delivery_ship", err)
	}
	s.record(ctx, actorID, "delivery:ship", note.ID, map[string]any{"note_number": note.Number})
	return note, nil
}

// Deliver credits the destination warehouse, records one TRANSFER movement
// per line and moves the note to DELIVERED. The destination must still be
// active.
func (s *Service) Deliver(ctx context.Context, id, actorID int64) (Note, []stock.Movement, error) {
	current, err := s.repo.GetNote(ctx, id)
	if err != nil {
		return Note{}, nil, s.reject("delivery_deliver", err)
	}
	costs := make(map[int64]decimal.Decimal, len(current.Items))
	for _, item := range current.Items {
		product, err := s.dir.Product(ctx, item.ProductID)
		if err != nil {
			return Note{}, nil, s.reject("delivery_deliver", err)
		}
		costs[item.ProductID] = product.Cost
	}

	var (
		note      Note
		movements []stock.Movement
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		note, err = tx.GetNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !note.Status.CanDeliver() {
			return shared.InvalidStatef("delivery note %s is %s", note.Number, note.Status)
		}
		if err := s.activeWarehouse(ctx, note.ToWarehouseID); err != nil {
			return err
		}
		lines := make([]stock.Line, 0, len(note.Items))
		for _, item := range note.Items {
			lines = append(lines, stock.Line{WarehouseID: note.ToWarehouseID, ProductID: item.ProductID, Quantity: item.Quantity})
		}
		for _, line := range stock.Aggregate(lines) {
			if _, err := stock.Credit(ctx, tx, line.WarehouseID, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		movements = movements[:0]
		for _, item := range note.Items {
			mv, err := stock.Record(ctx, tx, stock.MovementInput{
				ProductID:       item.ProductID,
				Type:            stock.MovementTransfer,
				FromWarehouseID: note.FromWarehouseID,
				ToWarehouseID:   note.ToWarehouseID,
				Quantity:        item.Quantity,
				UnitCost:        costs[item.ProductID],
				ProjectID:       note.ProjectID,
				ReferenceType:   stock.RefDeliveryNote,
				ReferenceID:     note.ID,
				Notes:           note.Number,
				ActorID:         actorID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, mv)
		}
		now := s.now().UTC()
		if err := tx.Transition(ctx, id, Transition{From: StatusInTransit, To: StatusDelivered, At: now, By: actorID}); err != nil {
			return err
		}
		note.Status = StatusDelivered
		note.DeliveredAt = &now
		note.ReceivedBy = &actorID
		return nil
	})
	if err != nil {
		return Note{}, nil, s.reject("delivery_deliver", err)
	}
	for _, mv := range movements {
		if s.observer != nil {
			s.observer.MovementRecorded(mv.Type, mv.Quantity)
		}
	}
	s.record(ctx, actorID, "delivery:deliver", note.ID, map[string]any{
		"note_number": note.Number,
		"movements":   len(movements),
	})
	return note, movements, nil
}

// UpdateNotes replaces the free-text notes of a PENDING note.
func (s *Service) UpdateNotes(ctx context.Context, id, actorID int64, notes string) (Note, error) {
	var note Note
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		note, err = tx.GetNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !note.Status.CanEdit() {
			return shared.InvalidStatef("delivery note %s is %s", note.Number, note.Status)
		}
		note.Notes = strings.TrimSpace(notes)
		return tx.UpdateNotes(ctx, id, note.Notes)
	})
	if err != nil {
		return Note{}, s.reject("delivery_update", err)
	}
	s.record(ctx, actorID, "delivery:update", note.ID, nil)
	return note, nil
}

// Delete removes a PENDING note and its items.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.GetNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !note.Status.CanEdit() {
			return shared.InvalidStatef("delivery note %s is %s", note.Number, note.Status)
		}
		number = note.Number
		return tx.DeleteNote(ctx, id)
	})
	if err != nil {
		return s.reject("delivery_delete", err)
	}
	s.record(ctx, actorID, "delivery:delete", id, map[string]any{"note_number": number})
	return nil
}

// Get loads one note with its items.
func (s *Service) Get(ctx context.Context, id int64) (Note, error) {
	if id <= 0 {
		return Note{}, shared.InvalidRequestf("invalid delivery note id")
	}
	return s.repo.GetNote(ctx, id)
}

// List returns notes newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Note, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.InvalidRequestf("unknown delivery note status %q", filter.Status)
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListNotes(ctx, filter)
}

func (s *Service) activeWarehouse(ctx context.Context, id int64) error {
	wh, err := s.dir.Warehouse(ctx, id)
	if err != nil {
		return err
	}
	if !wh.IsActive {
		return shared.InvalidStatef("warehouse %s is inactive", wh.Code)
	}
	return nil
}

func (s *Service) once(ctx context.Context, key string, fn func() error) error {
	if key == "" || s.idempotency == nil {
		return fn()
	}
	if err := shared.ValidateIdempotencyKey(key); err != nil {
		return err
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, "delivery.create"); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = s.idempotency.Delete(ctx, key, "delivery.create")
		return err
	}
	return nil
}

func (s *Service) reject(op string, err error) error {
	if s.observer != nil {
		s.observer.OperationRejected(op, err)
	}
	return err
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "delivery_note",
		EntityID: shared.EntityID(id),
		Meta:     meta,
	})
}
