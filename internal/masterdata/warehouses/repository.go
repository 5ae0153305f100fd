package warehouses

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const codeConstraint = "warehouses_code_key"

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Update(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Deactivate(ctx context.Context, id int64) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is used by HardDelete.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Warehouse, error)
	// StockedRows counts ledger rows of the warehouse with quantity > 0.
	StockedRows(ctx context.Context, id int64) (int, error)
	// HasMovements reports whether any movement names the warehouse.
	HasMovements(ctx context.Context, id int64) (bool, error)
	DeleteLedgerRows(ctx context.Context, id int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, code, name, warehouse_type, address, COALESCE(vehicle_plate, ''), COALESCE(driver_id, 0), is_active, created_at, updated_at`

func scan(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.Type, &w.Address, &w.VehiclePlate, &w.DriverID, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + ` OR vehicle_plate ILIKE $` + n + `)`
	}
	if filters.Type != "" {
		args = append(args, filters.Type)
		where += ` AND warehouse_type = $` + strconv.Itoa(len(args))
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM warehouses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM warehouses` + where + ` ORDER BY ` + sortOrder(filters)
	args = append(args, filters.Page.Limit, filters.Page.Offset)
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		w, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM warehouses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", id)
	}
	return w, err
}

func (r *repository) Create(ctx context.Context, w Warehouse) (Warehouse, error) {
	created, err := scan(r.pool.QueryRow(ctx, `INSERT INTO warehouses
    (code, name, warehouse_type, address, vehicle_plate, driver_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+columns,
		w.Code, w.Name, w.Type, w.Address, db.NullString(w.VehiclePlate), db.NullInt64(w.DriverID), w.IsActive))
	if db.IsUniqueViolation(err, codeConstraint) {
		return Warehouse{}, internalShared.InvalidRequestf("warehouse code %s already exists", w.Code)
	}
	return created, err
}

func (r *repository) Update(ctx context.Context, w Warehouse) (Warehouse, error) {
	updated, err := scan(r.pool.QueryRow(ctx, `UPDATE warehouses
SET code = $2, name = $3, warehouse_type = $4, address = $5, vehicle_plate = $6, driver_id = $7, updated_at = NOW()
WHERE id = $1
RETURNING `+columns,
		w.ID, w.Code, w.Name, w.Type, w.Address, db.NullString(w.VehiclePlate), db.NullInt64(w.DriverID)))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", w.ID)
	case db.IsUniqueViolation(err, codeConstraint):
		return Warehouse{}, internalShared.InvalidRequestf("warehouse code %s already exists", w.Code)
	}
	return updated, err
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return internalShared.NotFoundf("warehouse %d", id)
	}
	return nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scan(r.tx.QueryRow(ctx, `SELECT `+columns+` FROM warehouses WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", id)
	}
	return w, err
}

func (r *txRepo) StockedRows(ctx context.Context, id int64) (int, error) {
	rows, err := r.tx.Query(ctx, `SELECT product_id FROM warehouse_stock
WHERE warehouse_id = $1 AND quantity > 0
ORDER BY product_id
FOR UPDATE`, id)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

func (r *txRepo) HasMovements(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM stock_movements WHERE from_warehouse_id = $1 OR to_warehouse_id = $1
)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) DeleteLedgerRows(ctx context.Context, id int64) (int, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM warehouse_stock WHERE warehouse_id = $1`, id)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return internalShared.InvalidStatef("warehouse %d is referenced by movements, reservations or documents", id)
	}
	return err
}

func sortOrder(filters shared.ListFilters) string {
	dir := filters.Direction()
	switch filters.SortBy {
	case "code":
		return "code " + dir
	case "type":
		return "warehouse_type " + dir + ", code ASC"
	default:
		return "name " + dir
	}
}
