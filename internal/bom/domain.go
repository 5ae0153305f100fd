// Package bom maintains bills of materials and answers whether an assembly can be built.
package bom

import "github.com/shopspring/decimal"

// Component is one direct child of a BOM product.
type Component struct {
	ParentID    int64           `json:"parent_product_id"`
	ComponentID int64           `json:"component_product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ComponentAvailability compares one component's need with stock on hand.
type ComponentAvailability struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// Shortage is a component whose total available stock is below the need.
type Shortage struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
}

// Result answers a build check for one product.
type Result struct {
	ProductID  int64                   `json:"product_id"`
	Quantity   decimal.Decimal         `json:"quantity"`
	IsBOM      bool                    `json:"is_bom"`
	CanProduce bool                    `json:"can_produce"`
	Components []ComponentAvailability `json:"components"`
	Shortages  []Shortage              `json:"shortages"`
}

// Requirement is the total leaf quantity needed by a multi-level explosion.
type Requirement struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  decimal.Decimal `json:"quantity"`
	Depth     int             `json:"depth"`
}
