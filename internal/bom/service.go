package bom

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// RepositoryPort abstracts BOM persistence.
type RepositoryPort interface {
	Components(ctx context.Context, parentID int64) ([]Component, error)
	// WithTx serialises BOM writers so the cycle check and the write see the same graph.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional BOM port.
type TxRepository interface {
	Components(ctx context.Context, parentID int64) ([]Component, error)
	ReplaceComponents(ctx context.Context, parentID int64, components []Component) error
}

// Ledger reports product-wide availability.
type Ledger interface {
	CheckAvailability(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (stock.Availability, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes BOM maintenance and the build check.
type Service struct {
	repo   RepositoryPort
	dir    stock.Directory
	ledger Ledger
	audit  AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, dir stock.Directory, ledger Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, dir: dir, ledger: ledger, audit: audit}
}

// CheckAvailability reports whether one unit of productID can be built.
func (s *Service) CheckAvailability(ctx context.Context, productID int64) (Result, error) {
	return s.CheckAvailabilityFor(ctx, productID, decimal.NewFromInt(1))
}

// CheckAvailabilityFor reports whether qty units of productID can be built
// from direct components, comparing each against stock summed over all
// warehouses. Sub-assemblies are treated as stocked items.
func (s *Service) CheckAvailabilityFor(ctx context.Context, productID int64, qty decimal.Decimal) (Result, error) {
	if !qty.IsPositive() {
		return Result{}, shared.InvalidRequestf("quantity must be positive")
	}
	product, err := s.dir.Product(ctx, productID)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		ProductID:  productID,
		Quantity:   qty,
		IsBOM:      product.IsBOM,
		CanProduce: true,
		Components: []ComponentAvailability{},
		Shortages:  []Shortage{},
	}
	if !product.IsBOM {
		return result, nil
	}
	components, err := s.repo.Components(ctx, productID)
	if err != nil {
		return Result{}, err
	}
	for _, c := range components {
		child, err := s.dir.Product(ctx, c.ComponentID)
		if err != nil {
			return Result{}, err
		}
		required := c.Quantity.Mul(qty)
		avail, err := s.ledger.CheckAvailability(ctx, c.ComponentID, 0, required)
		if err != nil {
			return Result{}, err
		}
		result.Components = append(result.Components, ComponentAvailability{
			ProductID: c.ComponentID,
			SKU:       child.SKU,
			Required:  required,
			Available: avail.TotalAvailable,
		})
		if avail.TotalAvailable.LessThan(required) {
			result.CanProduce = false
			result.Shortages = append(result.Shortages, Shortage{
				ProductID: c.ComponentID,
				SKU:       child.SKU,
				Required:  required,
				Available: avail.TotalAvailable,
				Shortage:  required.Sub(avail.TotalAvailable),
			})
		}
	}
	return result, nil
}

// Components lists the direct components of parentID.
func (s *Service) Components(ctx context.Context, parentID int64) ([]Component, error) {
	if _, err := s.dir.Product(ctx, parentID); err != nil {
		return nil, err
	}
	return s.repo.Components(ctx, parentID)
}

// SetComponents replaces the component list of a BOM product. Self
// references and edges that would close a cycle are rejected.
func (s *Service) SetComponents(ctx context.Context, parentID, actorID int64, components []Component) ([]Component, error) {
	parent, err := s.dir.Product(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsBOM {
		return nil, shared.InvalidRequestf("product %s is not a BOM product", parent.SKU)
	}
	seen := make(map[int64]bool, len(components))
	normalized := make([]Component, 0, len(components))
	for _, c := range components {
		if c.ComponentID == parentID {
			return nil, shared.InvalidRequestf("product %s cannot contain itself", parent.SKU)
		}
		if err := stock.ValidateQuantity(c.Quantity); err != nil {
			return nil, fmt.Errorf("component %d: %w", c.ComponentID, err)
		}
		if seen[c.ComponentID] {
			return nil, shared.InvalidRequestf("component %d listed twice", c.ComponentID)
		}
		seen[c.ComponentID] = true
		if _, err := s.dir.Product(ctx, c.ComponentID); err != nil {
			return nil, err
		}
		normalized = append(normalized, Component{ParentID: parentID, ComponentID: c.ComponentID, Quantity: c.Quantity})
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].ComponentID < normalized[j].ComponentID })

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, c := range normalized {
			reaches, err := reaches(ctx, tx, c.ComponentID, parentID)
			if err != nil {
				return err
			}
			if reaches {
				return shared.InvalidRequestf("component %d already contains product %s", c.ComponentID, parent.SKU)
			}
		}
		return tx.ReplaceComponents(ctx, parentID, normalized)
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "bom:set_components",
			Entity:   "product",
			EntityID: shared.EntityID(parentID),
			Meta:     map[string]any{"components": len(normalized)},
		})
	}
	return normalized, nil
}

// reaches reports whether target is reachable from start through component edges.
func reaches(ctx context.Context, tx TxRepository, start, target int64) (bool, error) {
	visited := map[int64]bool{}
	stack := []int64{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		children, err := tx.Components(ctx, id)
		if err != nil {
			return false, err
		}
		for _, c := range children {
			stack = append(stack, c.ComponentID)
		}
	}
	return false, nil
}

type leafNeed struct {
	quantity decimal.Decimal
	depth    int
}

// Explode expands qty units of productID into total leaf requirements across
// every BOM level. A cycle in stored data fails with shared.ErrInvalidState.
func (s *Service) Explode(ctx context.Context, productID int64, qty decimal.Decimal) ([]Requirement, error) {
	if !qty.IsPositive() {
		return nil, shared.InvalidRequestf("quantity must be positive")
	}
	if _, err := s.dir.Product(ctx, productID); err != nil {
		return nil, err
	}
	// perUnit caches the leaf needs of one unit of each visited product so
	// shared sub-assemblies are expanded once.
	perUnit := map[int64]map[int64]leafNeed{}
	path := map[int64]bool{}
	var expand func(id int64) (map[int64]leafNeed, error)
	expand = func(id int64) (map[int64]leafNeed, error) {
		if needs, ok := perUnit[id]; ok {
			return needs, nil
		}
		if path[id] {
			return nil, shared.InvalidStatef("bom cycle through product %d", id)
		}
		components, err := s.repo.Components(ctx, id)
		if err != nil {
			return nil, err
		}
		needs := map[int64]leafNeed{}
		if len(components) == 0 {
			needs[id] = leafNeed{quantity: decimal.NewFromInt(1)}
			perUnit[id] = needs
			return needs, nil
		}
		path[id] = true
		defer delete(path, id)
		for _, c := range components {
			sub, err := expand(c.ComponentID)
			if err != nil {
				return nil, err
			}
			for leaf, n := range sub {
				cur := needs[leaf]
				cur.quantity = cur.quantity.Add(n.quantity.Mul(c.Quantity))
				if n.depth+1 > cur.depth {
					cur.depth = n.depth + 1
				}
				needs[leaf] = cur
			}
		}
		perUnit[id] = needs
		return needs, nil
	}
	needs, err := expand(productID)
	if err != nil {
		return nil, err
	}
	out := make([]Requirement, 0, len(needs))
	for id, n := range needs {
		if n.depth == 0 {
			continue
		}
		p, err := s.dir.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Requirement{ProductID: id, SKU: p.SKU, Quantity: n.quantity.Mul(qty), Depth: n.depth})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
