package products

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

const skuConstraint = "products_sku_key"

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) (Product, error)
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, sku, name, unit, cost, is_bom, is_active, created_at, updated_at`

func scan(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Cost, &p.IsBOM, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR sku ILIKE $` + n + `)`
	}
	if filters.Type == "BOM" {
		where += ` AND is_bom`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM products` + where + ` ORDER BY ` + sortOrder(filters)
	args = append(args, filters.Page.Limit, filters.Page.Offset)
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	p, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, internalShared.NotFoundf("product %d", id)
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, p Product) (Product, error) {
	created, err := scan(r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, unit, cost, is_bom, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+columns, p.SKU, p.Name, p.Unit, p.Cost, p.IsBOM, p.IsActive))
	if db.IsUniqueViolation(err, skuConstraint) {
		return Product{}, internalShared.InvalidRequestf("product sku %s already exists", p.SKU)
	}
	return created, err
}

// Update never writes sku.
func (r *repository) Update(ctx context.Context, p Product) (Product, error) {
	updated, err := scan(r.pool.QueryRow(ctx, `UPDATE products
SET name = $2, unit = $3, cost = $4, is_bom = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+columns, p.ID, p.Name, p.Unit, p.Cost, p.IsBOM))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, internalShared.NotFoundf("product %d", p.ID)
	}
	return updated, err
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return internalShared.NotFoundf("product %d", id)
	}
	return nil
}

func sortOrder(filters shared.ListFilters) string {
	dir := filters.Direction()
	switch filters.SortBy {
	case "sku":
		return "sku " + dir
	case "cost":
		return "cost " + dir + ", sku ASC"
	default:
		return "name " + dir
	}
}
