package warehouses

import (
	"context"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Service struct {
	repo  Repository
	audit AuditPort
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error) {
	filters.Page = filters.Page.Normalize()
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, internalShared.InvalidRequestf("invalid warehouse id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, warehouse Warehouse, actorID int64) (Warehouse, error) {
	warehouse = normalize(warehouse)
	warehouse.IsActive = true
	if err := s.validate(warehouse); err != nil {
		return Warehouse{}, err
	}
	created, err := s.repo.Create(ctx, warehouse)
	if err != nil {
		return Warehouse{}, err
	}
	s.record(ctx, actorID, "warehouse:create", created.ID, map[string]any{"code": created.Code, "type": created.Type})
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, warehouse Warehouse, actorID int64) (Warehouse, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	warehouse = normalize(warehouse)
	warehouse.ID = id
	warehouse.IsActive = current.IsActive
	if err := s.validate(warehouse); err != nil {
		return Warehouse{}, err
	}
	updated, err := s.repo.Update(ctx, warehouse)
	if err != nil {
		return Warehouse{}, err
	}
	s.record(ctx, actorID, "warehouse:update", id, nil)
	return updated, nil
}

// Deactivate hides the warehouse from new documents and movements; its ledger rows stay.
func (s *Service) Deactivate(ctx context.Context, id, actorID int64) error {
	if id <= 0 {
		return internalShared.InvalidRequestf("invalid warehouse id")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "warehouse:deactivate", id, nil)
	return nil
}

// HardDelete removes the warehouse. A warehouse named by any movement is
// never deleted, force or not; deactivate it instead. While any ledger row
// still holds stock the delete is refused unless force is set, in which case
// those rows are removed in the same transaction.
func (s *Service) HardDelete(ctx context.Context, id, actorID int64, force bool) error {
	if id <= 0 {
		return internalShared.InvalidRequestf("invalid warehouse id")
	}
	var purged int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		moved, err := tx.HasMovements(ctx, id)
		if err != nil {
			return err
		}
		if moved {
			return internalShared.InvalidStatef("warehouse %s has movement history; deactivate it instead", w.Code)
		}
		stocked, err := tx.StockedRows(ctx, id)
		if err != nil {
			return err
		}
		if stocked > 0 && !force {
			return internalShared.InvalidStatef("warehouse %s still holds stock in %d ledger rows", w.Code, stocked)
		}
		if purged, err = tx.DeleteLedgerRows(ctx, id); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "warehouse:delete", id, map[string]any{"force": force, "ledger_rows": purged})
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "warehouse",
		EntityID: internalShared.EntityID(id),
		Meta:     meta,
	})
}
