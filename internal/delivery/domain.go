package delivery

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ============================================================================
// DELIVERY NOTE STATUS
// ============================================================================

// Status represents the lifecycle of a delivery note.
type Status string

const (
	StatusPending   Status = "PENDING"    // Created, editable, stock untouched
	StatusInTransit Status = "IN_TRANSIT" // Shipped, source stock debited
	StatusDelivered Status = "DELIVERED"  // Received, destination stock credited
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered:
		return true
	default:
		return false
	}
}

// CanEdit checks if the note can be edited or deleted in this status.
func (s Status) CanEdit() bool {
	return s == StatusPending
}

// CanShip checks if the note can be shipped.
func (s Status) CanShip() bool {
	return s == StatusPending
}

// CanDeliver checks if the note can be delivered.
func (s Status) CanDeliver() bool {
	return s == StatusInTransit
}

// ParseStatus normalises raw into a Status; empty input yields "".
func ParseStatus(raw string) (Status, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	s := Status(raw)
	if !s.IsValid() {
		return "", shared.InvalidRequestf("unknown delivery note status %q", raw)
	}
	return s, nil
}

// ErrNumberTaken signals that another transaction committed the same note number.
var ErrNumberTaken = errors.New("delivery: note number taken")

// ============================================================================
// DELIVERY NOTE ENTITY
// ============================================================================

// Note moves stock from one warehouse to another in two steps.
type Note struct {
	ID              int64      `json:"id"`
	Number          string     `json:"note_number"`
	ProjectID       int64      `json:"project_id"`
	FromWarehouseID int64      `json:"from_warehouse_id"`
	ToWarehouseID   int64      `json:"to_warehouse_id"`
	Status          Status     `json:"status"`
	Notes           string     `json:"notes"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	ShippedBy       *int64     `json:"shipped_by,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	ReceivedBy      *int64     `json:"received_by,omitempty"`
	Items           []Item     `json:"items"`
}

// Item is one product line of a delivery note.
type Item struct {
	ID             int64           `json:"id"`
	DeliveryNoteID int64           `json:"delivery_note_id"`
	ProductID      int64           `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Notes          string          `json:"notes"`
}

// Transition stamps written together with a status change.
type Transition struct {
	From Status
	To   Status
	At   time.Time
	By   int64
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateInput describes a new PENDING note.
type CreateInput struct {
	ProjectID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Notes           string
	Items           []ItemInput
	ActorID         int64
	IdempotencyKey  string
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	Notes     string
}

// ListFilter narrows List results.
type ListFilter struct {
	ProjectID int64
	Status    Status
	Page      shared.PageRequest
}
