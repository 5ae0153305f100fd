package products

import (
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const defaultUnit = "pcs"

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return shared.InvalidRequestf("product sku is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return shared.InvalidRequestf("product name is required")
	}
	if p.Cost.IsNegative() {
		return shared.InvalidRequestf("product cost must not be negative")
	}
	return nil
}

func normalize(p Product) Product {
	p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
	p.Name = strings.TrimSpace(p.Name)
	p.Unit = strings.TrimSpace(p.Unit)
	if p.Unit == "" {
		p.Unit = defaultUnit
	}
	p.Cost = p.Cost.Round(2)
	return p
}
