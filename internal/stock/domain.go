package stock

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MovementType enumerates the kinds of ledger movements.
type MovementType string

const (
	// MovementIn receives stock into a warehouse.
	MovementIn MovementType = "IN"
	// MovementOut issues stock out of a warehouse.
	MovementOut MovementType = "OUT"
	// MovementTransfer moves stock between two warehouses.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment corrects a single warehouse up or down.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementProduction receives assembled output.
	MovementProduction MovementType = "PRODUCTION"
	// MovementConsumption issues components into production.
	MovementConsumption MovementType = "CONSUMPTION"
	// MovementService records material used on a service form.
	MovementService MovementType = "SERVICE"
)

var movementTypes = []MovementType{
	MovementIn, MovementOut, MovementTransfer, MovementAdjustment,
	MovementProduction, MovementConsumption, MovementService,
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	for _, known := range movementTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseMovementType validates raw at the boundary.
func ParseMovementType(raw string) (MovementType, error) {
	t := MovementType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", shared.InvalidRequestf("unknown movement type %q", raw)
	}
	return t, nil
}

// ReservationStatus tracks a reservation lifecycle.
type ReservationStatus string

const (
	// ReservationActive holds stock for a project.
	ReservationActive ReservationStatus = "ACTIVE"
	// ReservationFulfilled consumed the held stock.
	ReservationFulfilled ReservationStatus = "FULFILLED"
	// ReservationCancelled released the hold.
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationFulfilled || s == ReservationCancelled
}

// ParseReservationStatus validates raw at the boundary.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	s := ReservationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case ReservationActive, ReservationFulfilled, ReservationCancelled:
		return s, nil
	}
	return "", shared.InvalidRequestf("unknown reservation status %q", raw)
}

// Balance is the ledger row for one (warehouse, product) pair.
type Balance struct {
	WarehouseID int64           `json:"warehouse_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved_quantity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available is quantity not held by reservations.
func (b Balance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.Reserved)
}

// QuantityScale is the number of fractional digits stored for a quantity.
const QuantityScale = 3

// maxQuantity is the exclusive upper bound of a NUMERIC(15,3) column.
var maxQuantity = decimal.New(1, 12)

// ValidateQuantity accepts positive quantities with at most QuantityScale
// fractional digits that fit the ledger columns. Anything finer would be
// rounded per column by the database and break conservation across rows.
func ValidateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return shared.InvalidRequestf("quantity must be positive")
	}
	if !qty.Equal(qty.Truncate(QuantityScale)) {
		return shared.InvalidRequestf("quantity %s has more than %d decimal places", qty.String(), QuantityScale)
	}
	if qty.GreaterThanOrEqual(maxQuantity) {
		return shared.InvalidRequestf("quantity %s is out of range", qty.String())
	}
	return nil
}

// Check verifies quantity >= 0 and 0 <= reserved <= quantity.
func (b Balance) Check() error {
	if b.Quantity.IsNegative() || b.Reserved.IsNegative() || b.Reserved.GreaterThan(b.Quantity) {
		return ErrLedgerInvariant
	}
	return nil
}

// Movement is an append-only ledger audit record.
type Movement struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	Type            MovementType    `json:"movement_type"`
	FromWarehouseID int64           `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   int64           `json:"to_warehouse_id,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ProjectID       int64           `json:"project_id,omitempty"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     int64           `json:"reference_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MovementInput describes a movement to append.
type MovementInput struct {
	ProductID       int64
	Type            MovementType
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	ProjectID       int64
	ReferenceType   string
	ReferenceID     int64
	Notes           string
	ActorID         int64
}

// Reservation is a soft hold on ledger stock for a project.
type Reservation struct {
	ID          int64             `json:"id"`
	ProjectID   int64             `json:"project_id"`
	ProductID   int64             `json:"product_id"`
	WarehouseID int64             `json:"warehouse_id"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	CreatedBy   int64             `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	FulfilledAt *time.Time        `json:"fulfilled_at,omitempty"`
}

// ReserveInput requests a new reservation.
type ReserveInput struct {
	ProjectID      int64
	ProductID      int64
	WarehouseID    int64
	Quantity       decimal.Decimal
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// TransferInput requests an ad-hoc transfer between warehouses.
type TransferInput struct {
	ProjectID       int64
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	Notes           string
	ActorID         int64
	IdempotencyKey  string
}

// ManualMovementInput posts a single-warehouse movement.
// Quantity is signed only for ADJUSTMENT.
type ManualMovementInput struct {
	Type            MovementType
	ProjectID       int64
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	UnitCost        *decimal.Decimal
	ReferenceType   string
	ReferenceID     int64
	Notes           string
	ActorID         int64
	IdempotencyKey  string
}

// MovementFilter narrows movement history. Zero values are ignored.
type MovementFilter struct {
	ProjectID     int64
	ProductID     int64
	WarehouseID   int64
	Type          MovementType
	ReferenceType string
	ReferenceID   int64
	Page          shared.PageRequest
}

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	ProjectID   int64
	ProductID   int64
	WarehouseID int64
	Status      ReservationStatus
	Page        shared.PageRequest
}

// SummaryFilter narrows the stock summary.
type SummaryFilter struct {
	WarehouseID  int64
	ProductID    int64
	OnlyPositive bool
}

// SummaryRow projects a ledger row with display names.
type SummaryRow struct {
	WarehouseID   int64           `json:"warehouse_id"`
	WarehouseCode string          `json:"warehouse_code"`
	WarehouseName string          `json:"warehouse_name"`
	ProductID     int64           `json:"product_id"`
	ProductSKU    string          `json:"product_sku"`
	ProductName   string          `json:"product_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reserved      decimal.Decimal `json:"reserved_quantity"`
	Available     decimal.Decimal `json:"available_quantity"`
}

// WarehouseAvailability is one warehouse's share of a product.
type WarehouseAvailability struct {
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved_quantity"`
	Available   decimal.Decimal `json:"available"`
}

// Availability answers whether a product can be supplied.
type Availability struct {
	ProductID      int64                   `json:"product_id"`
	WarehouseID    int64                   `json:"warehouse_id,omitempty"`
	Requested      decimal.Decimal         `json:"requested"`
	Available      decimal.Decimal         `json:"available"`
	TotalAvailable decimal.Decimal         `json:"total_available"`
	Sufficient     bool                    `json:"sufficient"`
	Warehouses     []WarehouseAvailability `json:"warehouses"`
}

// ProductRef is the slice of product master data the ledger needs.
type ProductRef struct {
	ID       int64
	SKU      string
	Name     string
	Cost     decimal.Decimal
	IsBOM    bool
	IsActive bool
}

// WarehouseType distinguishes fixed sites from vehicles.
type WarehouseType string

const (
	// WarehousePhysical is a fixed site.
	WarehousePhysical WarehouseType = "PHYSICAL"
	// WarehouseVirtual is a technician's vehicle.
	WarehouseVirtual WarehouseType = "VIRTUAL"
)

// WarehouseRef is the slice of warehouse master data the ledger needs.
type WarehouseRef struct {
	ID       int64
	Code     string
	Name     string
	Type     WarehouseType
	IsActive bool
}

// Reference types used on movements.
const (
	RefReservation  = "stock_reservation"
	RefDeliveryNote = "delivery_note"
	RefServiceForm  = "service_form"
)

var (
	// ErrBalanceNotFound indicates a missing ledger row.
	ErrBalanceNotFound = errors.New("stock: balance not found")
	// ErrLedgerInvariant indicates a write would break quantity >= 0 or 0 <= reserved <= quantity.
	ErrLedgerInvariant = errors.New("stock: ledger invariant violated")
)
