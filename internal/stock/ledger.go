package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// LedgerTx is the transaction-scoped ledger port shared by every workflow
// that mutates warehouse stock.
type LedgerTx interface {
	// GetBalanceForUpdate locks and returns the row, or ErrBalanceNotFound.
	GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error)
	// EnsureBalance creates a zero row when absent.
	EnsureBalance(ctx context.Context, warehouseID, productID int64) error
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
}

// Guard selects which figure a debit must be covered by.
type Guard int

const (
	// GuardAvailable requires quantity - reserved to cover the debit.
	GuardAvailable Guard = iota
	// GuardPhysical requires quantity alone to cover the debit.
	GuardPhysical
)

// Line is one (warehouse, product, quantity) entry of a multi-line operation.
type Line struct {
	WarehouseID int64
	ProductID   int64
	Quantity    decimal.Decimal
}

// GetOrCreate returns the locked ledger row, creating a zero row when absent.
func GetOrCreate(ctx context.Context, tx LedgerTx, warehouseID, productID int64) (Balance, error) {
	if err := tx.EnsureBalance(ctx, warehouseID, productID); err != nil {
		return Balance{}, fmt.Errorf("stock: ensure balance: %w", err)
	}
	bal, err := tx.GetBalanceForUpdate(ctx, warehouseID, productID)
	if err != nil {
		return Balance{}, fmt.Errorf("stock: lock balance: %w", err)
	}
	return bal, nil
}

// Lock returns the locked ledger row; a missing row reads as zero and is not created.
func Lock(ctx context.Context, tx LedgerTx, warehouseID, productID int64) (Balance, error) {
	bal, err := tx.GetBalanceForUpdate(ctx, warehouseID, productID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{WarehouseID: warehouseID, ProductID: productID}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("stock: lock balance: %w", err)
	}
	return bal, nil
}

// Covers fails with InsufficientStockError unless bal covers qty under guard.
func Covers(bal Balance, qty decimal.Decimal, guard Guard) error {
	have := bal.Available()
	if guard == GuardPhysical {
		have = bal.Quantity
	}
	if have.LessThan(qty) {
		return &shared.InsufficientStockError{
			WarehouseID: bal.WarehouseID,
			ProductID:   bal.ProductID,
			Available:   have,
			Requested:   qty,
		}
	}
	return nil
}

// Debit removes qty from the row's physical quantity after checking guard.
// Reserved stock is never released by a debit; a physical debit that would
// leave reserved above quantity is rejected as insufficient.
func Debit(ctx context.Context, tx LedgerTx, warehouseID, productID int64, qty decimal.Decimal, guard Guard) (Balance, error) {
	if err := ValidateQuantity(qty); err != nil {
		return Balance{}, err
	}
	bal, err := Lock(ctx, tx, warehouseID, productID)
	if err != nil {
		return Balance{}, err
	}
	if err := Covers(bal, qty, guard); err != nil {
		return Balance{}, err
	}
	bal.Quantity = bal.Quantity.Sub(qty)
	if bal.Reserved.GreaterThan(bal.Quantity) {
		return Balance{}, &shared.InsufficientStockError{
			WarehouseID: warehouseID,
			ProductID:   productID,
			Available:   bal.Quantity.Add(qty).Sub(bal.Reserved),
			Requested:   qty,
		}
	}
	if err := write(ctx, tx, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Credit adds qty to the row's physical quantity, creating the row when absent.
func Credit(ctx context.Context, tx LedgerTx, warehouseID, productID int64, qty decimal.Decimal) (Balance, error) {
	if err := ValidateQuantity(qty); err != nil {
		return Balance{}, err
	}
	bal, err := GetOrCreate(ctx, tx, warehouseID, productID)
	if err != nil {
		return Balance{}, err
	}
	bal.Quantity = bal.Quantity.Add(qty)
	if bal.Quantity.GreaterThanOrEqual(maxQuantity) {
		return Balance{}, shared.InvalidRequestf("warehouse %d product %d: quantity would exceed the ledger range", warehouseID, productID)
	}
	if err := write(ctx, tx, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Hold increases reserved after checking availability.
func Hold(ctx context.Context, tx LedgerTx, warehouseID, productID int64, qty decimal.Decimal) (Balance, error) {
	if err := ValidateQuantity(qty); err != nil {
		return Balance{}, err
	}
	bal, err := Lock(ctx, tx, warehouseID, productID)
	if err != nil {
		return Balance{}, err
	}
	if err := Covers(bal, qty, GuardAvailable); err != nil {
		return Balance{}, err
	}
	bal.Reserved = bal.Reserved.Add(qty)
	if err := write(ctx, tx, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Release decreases reserved, floored at zero so drift never blocks a cancel.
func Release(ctx context.Context, tx LedgerTx, warehouseID, productID int64, qty decimal.Decimal) (Balance, error) {
	bal, err := tx.GetBalanceForUpdate(ctx, warehouseID, productID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{WarehouseID: warehouseID, ProductID: productID}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("stock: lock balance: %w", err)
	}
	bal.Reserved = decimal.Max(bal.Reserved.Sub(qty), decimal.Zero)
	if err := write(ctx, tx, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Consume decreases both quantity and reserved by qty, re-checking physical
// quantity since unrelated movements may have reduced it after the hold.
func Consume(ctx context.Context, tx LedgerTx, warehouseID, productID int64, qty decimal.Decimal) (Balance, error) {
	if err := ValidateQuantity(qty); err != nil {
		return Balance{}, err
	}
	bal, err := Lock(ctx, tx, warehouseID, productID)
	if err != nil {
		return Balance{}, err
	}
	if err := Covers(bal, qty, GuardPhysical); err != nil {
		return Balance{}, err
	}
	bal.Quantity = bal.Quantity.Sub(qty)
	bal.Reserved = decimal.Max(bal.Reserved.Sub(qty), decimal.Zero)
	if bal.Reserved.GreaterThan(bal.Quantity) {
		bal.Reserved = bal.Quantity
	}
	if err := write(ctx, tx, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Record validates and appends a movement. It never touches ledger rows.
func Record(ctx context.Context, tx LedgerTx, in MovementInput) (Movement, error) {
	if err := validateMovement(in); err != nil {
		return Movement{}, err
	}
	mv, err := tx.InsertMovement(ctx, Movement{
		ProductID:       in.ProductID,
		Type:            in.Type,
		FromWarehouseID: in.FromWarehouseID,
		ToWarehouseID:   in.ToWarehouseID,
		Quantity:        in.Quantity,
		UnitCost:        in.UnitCost,
		ProjectID:       in.ProjectID,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		Notes:           in.Notes,
		CreatedBy:       in.ActorID,
	})
	if err != nil {
		return Movement{}, fmt.Errorf("stock: insert movement: %w", err)
	}
	return mv, nil
}

// Aggregate sums quantities per (warehouse, product) and orders the result by
// warehouse then product so multi-line operations lock rows in a stable order.
func Aggregate(lines []Line) []Line {
	type key struct{ wh, product int64 }
	sums := make(map[key]decimal.Decimal, len(lines))
	for _, l := range lines {
		k := key{l.WarehouseID, l.ProductID}
		sums[k] = sums[k].Add(l.Quantity)
	}
	out := make([]Line, 0, len(sums))
	for k, qty := range sums {
		out = append(out, Line{WarehouseID: k.wh, ProductID: k.product, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// DebitAll debits every aggregated line or none of them. Callers run it
// inside one transaction; the first shortfall aborts the call.
func DebitAll(ctx context.Context, tx LedgerTx, lines []Line, guard Guard) error {
	for _, l := range Aggregate(lines) {
		if _, err := Debit(ctx, tx, l.WarehouseID, l.ProductID, l.Quantity, guard); err != nil {
			return err
		}
	}
	return nil
}

func write(ctx context.Context, tx LedgerTx, bal Balance) error {
	if err := bal.Check(); err != nil {
		return fmt.Errorf("warehouse %d product %d: %w", bal.WarehouseID, bal.ProductID, err)
	}
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return fmt.Errorf("stock: upsert balance: %w", err)
	}
	return nil
}

// costScale matches the unit_cost column.
const costScale = 2

func validateMovement(in MovementInput) error {
	if !in.Type.Valid() {
		return shared.InvalidRequestf("unknown movement type %q", in.Type)
	}
	if in.ProductID <= 0 {
		return shared.InvalidRequestf("product required")
	}
	if err := ValidateQuantity(in.Quantity); err != nil {
		return err
	}
	if in.UnitCost.IsNegative() {
		return shared.InvalidRequestf("unit cost must not be negative")
	}
	if !in.UnitCost.Equal(in.UnitCost.Truncate(costScale)) {
		return shared.InvalidRequestf("unit cost %s has more than %d decimal places", in.UnitCost.String(), costScale)
	}
	if in.ActorID <= 0 {
		return shared.InvalidRequestf("actor required")
	}
	from, to := in.FromWarehouseID != 0, in.ToWarehouseID != 0
	switch in.Type {
	case MovementIn, MovementProduction:
		if !to || from {
			return shared.InvalidRequestf("%s movement needs only a destination warehouse", in.Type)
		}
	case MovementOut, MovementConsumption:
		if !from || to {
			return shared.InvalidRequestf("%s movement needs only a source warehouse", in.Type)
		}
	case MovementTransfer:
		if !from || !to {
			return shared.InvalidRequestf("transfer needs source and destination warehouses")
		}
		if in.FromWarehouseID == in.ToWarehouseID {
			return shared.InvalidRequestf("source and destination warehouse must differ")
		}
	case MovementAdjustment:
		if from == to {
			return shared.InvalidRequestf("adjustment needs exactly one warehouse")
		}
	case MovementService:
		if to {
			return shared.InvalidRequestf("service movement has no destination warehouse")
		}
	}
	return nil
}
