package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LedgerTx
	InsertReservation(ctx context.Context, res Reservation) (Reservation, error)
	GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error)
	UpdateReservation(ctx context.Context, res Reservation) error
}

type ledgerTx struct {
	tx pgx.Tx
}

type txRepository struct {
	*ledgerTx
}

// NewLedgerTx binds the ledger port to an open transaction so other
// packages can compose ledger writes with their own statements.
func NewLedgerTx(tx pgx.Tx) LedgerTx {
	return &ledgerTx{tx: tx}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{ledgerTx: &ledgerTx{tx: tx}})
	})
}

const balanceColumns = `warehouse_id, product_id, quantity, reserved_quantity, updated_at`

func (r *Repository) GetBalance(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM warehouse_stock WHERE warehouse_id=$1 AND product_id=$2`, warehouseID, productID).
		Scan(&bal.WarehouseID, &bal.ProductID, &bal.Quantity, &bal.Reserved, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
	}
	return bal, err
}

func (r *Repository) ListBalancesByProduct(ctx context.Context, productID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM warehouse_stock WHERE product_id=$1 ORDER BY warehouse_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.WarehouseID, &bal.ProductID, &bal.Quantity, &bal.Reserved, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

const movementColumns = `id, product_id, movement_type, from_warehouse_id, to_warehouse_id, quantity, unit_cost, project_id, reference_type, reference_id, notes, created_by, created_at`

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.ProjectID != 0 {
		add("project_id = ?", filter.ProjectID)
	}
	if filter.ProductID != 0 {
		add("product_id = ?", filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		add("(from_warehouse_id = ? OR to_warehouse_id = ?)", filter.WarehouseID)
	}
	if filter.Type != "" {
		add("movement_type = ?", string(filter.Type))
	}
	if filter.ReferenceType != "" {
		add("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != 0 {
		add("reference_id = ?", filter.ReferenceID)
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

const reservationColumns = `id, project_id, product_id, warehouse_id, quantity, status, notes, created_by, created_at, cancelled_at, fulfilled_at`

func (r *Repository) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, shared.NotFoundf("reservation %d", id)
	}
	return res, err
}

func (r *Repository) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	page := filter.Page.Normalize()
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM stock_reservations
WHERE ($1::bigint IS NULL OR project_id = $1)
  AND ($2::bigint IS NULL OR product_id = $2)
  AND ($3::bigint IS NULL OR warehouse_id = $3)
  AND ($4::text IS NULL OR status = $4)
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6`, db.NullInt64(filter.ProjectID), db.NullInt64(filter.ProductID), db.NullInt64(filter.WarehouseID), db.NullString(string(filter.Status)), page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) Summary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.warehouse_id, w.code, w.name, s.product_id, p.sku, p.name, s.quantity, s.reserved_quantity
FROM warehouse_stock s
JOIN warehouses w ON w.id = s.warehouse_id
JOIN products p ON p.id = s.product_id
WHERE ($1::bigint IS NULL OR s.warehouse_id = $1)
  AND ($2::bigint IS NULL OR s.product_id = $2)
  AND (NOT $3 OR s.quantity > 0)
ORDER BY w.code, p.sku`, db.NullInt64(filter.WarehouseID), db.NullInt64(filter.ProductID), filter.OnlyPositive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SummaryRow{}
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.WarehouseID, &row.WarehouseCode, &row.WarehouseName, &row.ProductID, &row.ProductSKU, &row.ProductName, &row.Quantity, &row.Reserved); err != nil {
			return nil, err
		}
		row.Available = row.Quantity.Sub(row.Reserved)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *ledgerTx) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var bal Balance
	err := t.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM warehouse_stock WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
		Scan(&bal.WarehouseID, &bal.ProductID, &bal.Quantity, &bal.Reserved, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (t *ledgerTx) EnsureBalance(ctx context.Context, warehouseID, productID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO warehouse_stock (warehouse_id, product_id, quantity, reserved_quantity, updated_at)
VALUES ($1,$2,0,0,NOW())
ON CONFLICT (warehouse_id, product_id) DO NOTHING`, warehouseID, productID)
	return err
}

func (t *ledgerTx) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO warehouse_stock (warehouse_id, product_id, quantity, reserved_quantity, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET quantity=EXCLUDED.quantity, reserved_quantity=EXCLUDED.reserved_quantity, updated_at=NOW()`,
		balance.WarehouseID, balance.ProductID, balance.Quantity, balance.Reserved)
	return err
}

func (t *ledgerTx) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, movement_type, from_warehouse_id, to_warehouse_id, quantity, unit_cost, project_id, reference_type, reference_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id, created_at`,
		mv.ProductID, string(mv.Type), db.NullInt64(mv.FromWarehouseID), db.NullInt64(mv.ToWarehouseID), mv.Quantity, mv.UnitCost,
		db.NullInt64(mv.ProjectID), db.NullString(mv.ReferenceType), db.NullInt64(mv.ReferenceID), mv.Notes, mv.CreatedBy).
		Scan(&mv.ID, &mv.CreatedAt)
	return mv, err
}

func (t *txRepository) InsertReservation(ctx context.Context, res Reservation) (Reservation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_reservations (project_id, product_id, warehouse_id, quantity, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		res.ProjectID, res.ProductID, res.WarehouseID, res.Quantity, string(res.Status), res.Notes, res.CreatedBy, res.CreatedAt).Scan(&res.ID)
	return res, err
}

func (t *txRepository) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	res, err := scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, shared.NotFoundf("reservation %d", id)
	}
	return res, err
}

func (t *txRepository) UpdateReservation(ctx context.Context, res Reservation) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, cancelled_at=$3, fulfilled_at=$4 WHERE id=$1`,
		res.ID, string(res.Status), res.CancelledAt, res.FulfilledAt)
	return err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		mv                       Movement
		mvType                   string
		from, to, project, refID *int64
		refType                  *string
	)
	if err := row.Scan(&mv.ID, &mv.ProductID, &mvType, &from, &to, &mv.Quantity, &mv.UnitCost, &project, &refType, &refID, &mv.Notes, &mv.CreatedBy, &mv.CreatedAt); err != nil {
		return Movement{}, err
	}
	mv.Type = MovementType(mvType)
	mv.FromWarehouseID = deref(from)
	mv.ToWarehouseID = deref(to)
	mv.ProjectID = deref(project)
	mv.ReferenceID = deref(refID)
	if refType != nil {
		mv.ReferenceType = *refType
	}
	return mv, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		res    Reservation
		status string
	)
	if err := row.Scan(&res.ID, &res.ProjectID, &res.ProductID, &res.WarehouseID, &res.Quantity, &status, &res.Notes, &res.CreatedBy, &res.CreatedAt, &res.CancelledAt, &res.FulfilledAt); err != nil {
		return Reservation{}, err
	}
	res.Status = ReservationStatus(status)
	return res, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
