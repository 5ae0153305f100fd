package fieldservice

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

// DefaultNumberRetries bounds how often Create retries a colliding form number.
const DefaultNumberRetries = 3

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetForm(ctx context.Context, id int64) (Form, error)
	ListForms(ctx context.Context, filter ListFilter) ([]Form, error)
}

// TxRepository exposes transactional operations; ledger writes join the
// same transaction through the embedded stock.LedgerTx.
type TxRepository interface {
	stock.LedgerTx
	LastNumber(ctx context.Context, year int) (string, error)
	InsertForm(ctx context.Context, form Form) (Form, error)
	GetFormForUpdate(ctx context.Context, id int64) (Form, error)
	// UpdateForm persists editable details, status and started_at.
	UpdateForm(ctx context.Context, form Form) error
	InsertItem(ctx context.Context, item Item) (Item, error)
	DeleteItem(ctx context.Context, formID, itemID int64) error
	// CompleteForm stores completion fields if the form is still in from.
	CompleteForm(ctx context.Context, form Form, from Status) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the service form lifecycle.
type Service struct {
	repo          RepositoryPort
	dir           stock.Directory
	audit         AuditPort
	observer      stock.Observer
	numberRetries int
	now           func() time.Time
}

// NewService constructs Service. audit and observer may be nil.
func NewService(repo RepositoryPort, dir stock.Directory, audit AuditPort, observer stock.Observer) *Service {
	return &Service{
		repo:          repo,
		dir:           dir,
		audit:         audit,
		observer:      observer,
		numberRetries: DefaultNumberRetries,
		now:           time.Now,
	}
}

// SetNumberRetries overrides the form number retry budget.
func (s *Service) SetNumberRetries(n int) {
	if n > 0 {
		s.numberRetries = n
	}
}

// Create opens a new form, optionally bound to a vehicle warehouse.
func (s *Service) Create(ctx context.Context, input CreateInput) (Form, error) {
	if err := s.validateCreate(ctx, &input); err != nil {
		return Form{}, s.reject("service_form_create", err)
	}
	var (
		created Form
		err     error
	)
	for attempt := 0; attempt < s.numberRetries; attempt++ {
		created, err = s.insert(ctx, input)
		if !errors.Is(err, ErrNumberTaken) {
			break
		}
	}
	if errors.Is(err, ErrNumberTaken) {
		err = fmt.Errorf("fieldservice: allocate form number after %d attempts: %w", s.numberRetries, err)
	}
	if err != nil {
		return Form{}, s.reject("service_form_create", err)
	}
	s.record(ctx, input.ActorID, "service_form:create", created.ID, map[string]any{"form_number": created.Number})
	return created, nil
}

func (s *Service) validateCreate(ctx context.Context, input *CreateInput) error {
	if input.ActorID <= 0 {
		return shared.InvalidRequestf("actor required")
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
	if input.VehicleWarehouseID != 0 {
		wh, err := s.dir.Warehouse(ctx, input.VehicleWarehouseID)
		if err != nil {
			return err
		}
		if wh.Type != stock.WarehouseVirtual {
			return shared.InvalidRequestf("warehouse %s is not a vehicle", wh.Code)
		}
		if !wh.IsActive {
			return shared.InvalidStatef("warehouse %d is inactive", wh.ID)
		}
	}
	if input.TechnicianID == 0 {
		input.TechnicianID = input.ActorID
	}
	return nil
}

func (s *Service) insert(ctx context.Context, input CreateInput) (Form, error) {
	var created Form
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		last, err := tx.LastNumber(ctx, now.Year())
		if err != nil {
			return fmt.Errorf("fieldservice: last form number: %w", err)
		}
		number, err := shared.NextDocNumber(shared.PrefixServiceForm, now.Year(), last)
		if err != nil {
			return err
		}
		created, err = tx.InsertForm(ctx, Form{
			Number:             number,
			ProjectID:          input.ProjectID,
			VehicleWarehouseID: input.VehicleWarehouseID,
			TechnicianID:       input.TechnicianID,
			Status:             StatusOpen,
			WorkDescription:    strings.TrimSpace(input.WorkDescription),
			Notes:              strings.TrimSpace(input.Notes),
			CreatedAt:          now,
		})
		return err
	})
	return created, err
}

// Update edits details; the first change moves an OPEN form to IN_PROGRESS.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Form, error) {
	if input.TechnicianID != nil && *input.TechnicianID <= 0 {
		return Form{}, s.reject("service_form_update", shared.InvalidRequestf("invalid technician"))
	}
	var form Form
	err := s.modify(ctx, id, func(ctx context.Context, tx TxRepository, f *Form) error {
		if input.WorkDescription != nil {
			f.WorkDescription = strings.TrimSpace(*input.WorkDescription)
		}
		if input.Notes != nil {
			f.Notes = strings.TrimSpace(*input.Notes)
		}
		if input.TechnicianID != nil {
			f.TechnicianID = *input.TechnicianID
		}
		form = *f
		return nil
	})
	if err != nil {
		return Form{}, s.reject("service_form_update", err)
	}
	s.record(ctx, input.ActorID, "service_form:update", id, nil)
	return form, nil
}

// AddMaterial records intended usage; the ledger is not touched.
func (s *Service) AddMaterial(ctx context.Context, id int64, input MaterialInput) (Form, error) {
	if err := stock.ValidateQuantity(input.Quantity); err != nil {
		return Form{}, s.reject("service_form_add_material", err)
	}
	product, err := s.dir.Product(ctx, input.ProductID)
	if err != nil {
		return Form{}, s.reject("service_form_add_material", err)
	}
	if !product.IsActive {
		return Form{}, s.reject("service_form_add_material", shared.InvalidStatef("product %d is inactive", product.ID))
	}
	var form Form
	err = s.modify(ctx, id, func(ctx context.Context, tx TxRepository, f *Form) error {
		item, err := tx.InsertItem(ctx, Item{
			ServiceFormID:       id,
			ProductID:           input.ProductID,
			Quantity:            input.Quantity,
			DeliveredToCustomer: input.DeliveredToCustomer,
			Notes:               strings.TrimSpace(input.Notes),
		})
		if err != nil {
			return err
		}
		f.Items = append(f.Items, item)
		form = *f
		return nil
	})
	if err != nil {
		return Form{}, s.reject("service_form_add_material", err)
	}
	s.record(ctx, input.ActorID, "service_form:add_material", id, map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity.String(),
	})
	return form, nil
}

// RemoveMaterial drops a material line from a form that is not completed.
func (s *Service) RemoveMaterial(ctx context.Context, id, itemID, actorID int64) (Form, error) {
	var form Form
	err := s.modify(ctx, id, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := tx.DeleteItem(ctx, id, itemID); err != nil {
			return err
		}
		kept := make([]Item, 0, len(f.Items))
		for _, item := range f.Items {
			if item.ID != itemID {
				kept = append(kept, item)
			}
		}
		f.Items = kept
		form = *f
		return nil
	})
	if err != nil {
		return Form{}, s.reject("service_form_remove_material", err)
	}
	s.record(ctx, actorID, "service_form:remove_material", id, map[string]any{"item_id": itemID})
	return form, nil
}

// modify runs fn on a locked, not yet completed form and persists the result.
func (s *Service) modify(ctx context.Context, id int64, fn func(context.Context, TxRepository, *Form) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		form, err := tx.GetFormForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !form.Status.CanModify() {
			return shared.InvalidStatef("service form %s is %s", form.Number, form.Status)
		}
		if form.Status == StatusOpen {
			now := s.now().UTC()
			form.Status = StatusInProgress
			form.StartedAt = &now
		}
		if err := fn(ctx, tx, &form); err != nil {
			return err
		}
		return tx.UpdateForm(ctx, form)
	})
}

// Complete debits the vehicle for every material line, records one SERVICE
// movement per line and closes the form. Forms without a vehicle record the
// movements with no ledger effect.
func (s *Service) Complete(ctx context.Context, id int64, input CompleteInput) (Form, []stock.Movement, error) {
	var (
		form      Form
		movements []stock.Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		form, err = tx.GetFormForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if form.Status == StatusCompleted {
			return shared.InvalidStatef("service form %s is already completed", form.Number)
		}
		if form.VehicleWarehouseID != 0 {
			lines := make([]stock.Line, 0, len(form.Items))
			for _, item := range form.Items {
				lines = append(lines, stock.Line{WarehouseID: form.VehicleWarehouseID, ProductID: item.ProductID, Quantity: item.Quantity})
			}
			if err := stock.DebitAll(ctx, tx, lines, stock.GuardPhysical); err != nil {
				return err
			}
		}
		costs := make(map[int64]decimal.Decimal, len(form.Items))
		for _, item := range form.Items {
			if _, ok := costs[item.ProductID]; ok {
				continue
			}
			product, err := s.dir.Product(ctx, item.ProductID)
			if err != nil {
				return err
			}
			costs[item.ProductID] = product.Cost
		}
		for _, item := range form.Items {
			mv, err := stock.Record(ctx, tx, stock.MovementInput{
				ProductID:       item.ProductID,
				Type:            stock.MovementService,
				FromWarehouseID: form.VehicleWarehouseID,
				Quantity:        item.Quantity,
				UnitCost:        costs[item.ProductID],
				ProjectID:       form.ProjectID,
				ReferenceType:   stock.RefServiceForm,
				ReferenceID:     form.ID,
				Notes:           form.Number,
				ActorID:         input.ActorID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, mv)
		}
		previous := form.Status
		now := s.now().UTC()
		form.Status = StatusCompleted
		form.CompletedAt = &now
		if form.StartedAt == nil {
			form.StartedAt = &now
		}
		form.WorkPerformed = strings.TrimSpace(input.WorkPerformed)
		form.CustomerName = strings.TrimSpace(input.CustomerName)
		form.CustomerSigned = input.CustomerSigned
		form.SignatureURL = strings.TrimSpace(input.SignatureURL)
		return tx.CompleteForm(ctx, form, previous)
	})
	if err != nil {
		return Form{}, nil, s.reject("service_form_complete", err)
	}
	if s.observer != nil {
		for _, mv := range movements {
			s.observer.MovementRecorded(mv.Type, mv.Quantity)
		}
	}
	s.record(ctx, input.ActorID, "service_form:complete", form.ID, map[string]any{
		"form_number": form.Number,
		"movements":   len(movements),
	})
	return form, movements, nil
}

// Get loads one form with its items.
func (s *Service) Get(ctx context.Context, id int64) (Form, error) {
	if id <= 0 {
		return Form{}, shared.InvalidRequestf("invalid service form id")
	}
	return s.repo.GetForm(ctx, id)
}

// List returns forms newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Form, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.InvalidRequestf("unknown service form status %q", filter.Status)
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListForms(ctx, filter)
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
		Entity:   "service_form",
		EntityID: shared.EntityID(id),
		Meta:     meta,
	})
}
