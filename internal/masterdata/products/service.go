package products

import (
	"context"
	"strings"

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

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	filters.Page = filters.Page.Normalize()
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, internalShared.InvalidRequestf("invalid product id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, product Product, actorID int64) (Product, error) {
	product = normalize(product)
	product.IsActive = true
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, actorID, "product:create", created.ID, map[string]any{"sku": created.SKU})
	return created, nil
}

// Update changes everything but the SKU.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput, actorID int64) (Product, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if sku := strings.ToUpper(strings.TrimSpace(input.SKU)); sku != "" && sku != current.SKU {
		return Product{}, internalShared.InvalidRequestf("product sku %s cannot be changed", current.SKU)
	}
	next := current
	next.Name = input.Name
	next.Unit = input.Unit
	next.Cost = input.Cost
	next.IsBOM = input.IsBOM
	next = normalize(next)
	if err := s.validate(next); err != nil {
		return Product{}, err
	}
	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, actorID, "product:update", id, nil)
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, id, actorID int64) error {
	if id <= 0 {
		return internalShared.InvalidRequestf("invalid product id")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "product:deactivate", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: internalShared.EntityID(id),
		Meta:     meta,
	})
}
