package projects

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const codeConstraint = "projects_code_key"

type Repository interface {
	Get(ctx context.Context, id int64) (Project, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, project Project) (Project, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_active, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, shared.NotFoundf("project %d", id)
	}
	return p, err
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) Create(ctx context.Context, p Project) (Project, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO projects (code, name, is_active) VALUES ($1, $2, $3)
RETURNING id, created_at`, p.Code, p.Name, p.IsActive).Scan(&p.ID, &p.CreatedAt)
	if db.IsUniqueViolation(err, codeConstraint) {
		return Project{}, shared.InvalidRequestf("project code %s already exists", p.Code)
	}
	return p, err
}
