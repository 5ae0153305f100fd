package bom

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// bomWriteLock is the advisory lock key taken by every component rewrite.
const bomWriteLock int64 = 0x626f6d

// Repository stores BOM edges in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txRepo struct {
	tx pgx.Tx
}

// Components lists direct components ordered by component id.
func (r *Repository) Components(ctx context.Context, parentID int64) ([]Component, error) {
	return components(ctx, r.pool, parentID)
}

// WithTx runs fn in a transaction holding the BOM advisory lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, bomWriteLock); err != nil {
			return err
		}
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) Components(ctx context.Context, parentID int64) ([]Component, error) {
	return components(ctx, r.tx, parentID)
}

func (r *txRepo) ReplaceComponents(ctx context.Context, parentID int64, list []Component) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM bom_items WHERE parent_product_id = $1`, parentID); err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range list {
		batch.Queue(`INSERT INTO bom_items (parent_product_id, child_product_id, quantity) VALUES ($1, $2, $3)`,
			parentID, c.ComponentID, c.Quantity)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func components(ctx context.Context, q querier, parentID int64) ([]Component, error) {
	rows, err := q.Query(ctx, `SELECT parent_product_id, child_product_id, quantity
FROM bom_items WHERE parent_product_id = $1 ORDER BY child_product_id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Component
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ParentID, &c.ComponentID, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
