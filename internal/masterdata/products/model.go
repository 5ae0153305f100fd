package products

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// Product represents a stocked item. SKU is fixed once created.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Cost      decimal.Decimal `json:"cost"`
	IsBOM     bool            `json:"is_bom"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpdateInput carries the mutable product fields. A non-empty SKU must
// match the stored one.
type UpdateInput struct {
	SKU   string
	Name  string
	Unit  string
	Cost  decimal.Decimal
	IsBOM bool
}

// Ref projects the product onto the ledger's view of it.
func (p Product) Ref() stock.ProductRef {
	return stock.ProductRef{ID: p.ID, SKU: p.SKU, Name: p.Name, Cost: p.Cost, IsBOM: p.IsBOM, IsActive: p.IsActive}
}
