package fieldservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

const numberConstraint = "service_forms_number_key"

// Repository persists service forms in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	stock.LedgerTx
	tx pgx.Tx
}

// WithTx runs fn in a transaction shared with the stock ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{LedgerTx: stock.NewLedgerTx(tx), tx: tx})
	})
}

const formColumns = `id, form_number, project_id, vehicle_warehouse_id, technician_id, status, work_description,
       work_performed, notes, customer_name, customer_signed, signature_url, created_at, started_at, completed_at`

// GetForm loads one form with items.
func (r *Repository) GetForm(ctx context.Context, id int64) (Form, error) {
	form, err := scanForm(r.pool.QueryRow(ctx, `SELECT `+formColumns+` FROM service_forms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Form{}, shared.NotFoundf("service form %d", id)
		}
		return Form{}, err
	}
	if form.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return Form{}, err
	}
	return form, nil
}

// ListForms lists forms newest first.
func (r *Repository) ListForms(ctx context.Context, filter ListFilter) ([]Form, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProjectID > 0 {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.VehicleWarehouseID > 0 {
		args = append(args, filter.VehicleWarehouseID)
		where = append(where, fmt.Sprintf("vehicle_warehouse_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + formColumns + ` FROM service_forms`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Page.Limit, filter.Page.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var forms []Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range forms {
		if forms[i].Items, err = loadItems(ctx, r.pool, forms[i].ID); err != nil {
			return nil, err
		}
	}
	return forms, nil
}

func (t *txRepo) LastNumber(ctx context.Context, year int) (string, error) {
	var last string
	err := t.tx.QueryRow(ctx, `SELECT form_number FROM service_forms WHERE form_number LIKE $1
ORDER BY length(form_number) DESC, form_number DESC LIMIT 1`, shared.DocNumberPattern(shared.PrefixServiceForm, year)).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

func (t *txRepo) InsertForm(ctx context.Context, form Form) (Form, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO service_forms (form_number, project_id, vehicle_warehouse_id, technician_id, status, work_description, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		form.Number, form.ProjectID, db.NullInt64(form.VehicleWarehouseID), form.TechnicianID, string(form.Status),
		form.WorkDescription, form.Notes, form.CreatedAt).Scan(&form.ID)
	if err != nil {
		if db.IsUniqueViolation(err, numberConstraint) {
			return Form{}, ErrNumberTaken
		}
		return Form{}, err
	}
	form.Items = []Item{}
	return form, nil
}

func (t *txRepo) GetFormForUpdate(ctx context.Context, id int64) (Form, error) {
	form, err := scanForm(t.tx.QueryRow(ctx, `SELECT `+formColumns+` FROM service_forms WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Form{}, shared.NotFoundf("service form %d", id)
		}
		return Form{}, err
	}
	if form.Items, err = loadItems(ctx, t.tx, id); err != nil {
		return Form{}, err
	}
	return form, nil
}

func (t *txRepo) UpdateForm(ctx context.Context, form Form) error {
	_, err := t.tx.Exec(ctx, `UPDATE service_forms SET status = $2, work_description = $3, notes = $4, technician_id = $5, started_at = $6
WHERE id = $1`, form.ID, string(form.Status), form.WorkDescription, form.Notes, form.TechnicianID, form.StartedAt)
	return err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO service_form_items (service_form_id, product_id, quantity, delivered_to_customer, notes)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, item.ServiceFormID, item.ProductID, item.Quantity, item.DeliveredToCustomer, item.Notes).Scan(&item.ID)
	return item, err
}

func (t *txRepo) DeleteItem(ctx context.Context, formID, itemID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM service_form_items WHERE service_form_id = $1 AND id = $2`, formID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("service form %d item %d", formID, itemID)
	}
	return nil
}

func (t *txRepo) CompleteForm(ctx context.Context, form Form, from Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE service_forms
SET status = $3, work_performed = $4, customer_name = $5, customer_signed = $6, signature_url = $7, started_at = $8, completed_at = $9
WHERE id = $1 AND status = $2`,
		form.ID, string(from), string(form.Status), form.WorkPerformed, form.CustomerName, form.CustomerSigned, form.SignatureURL,
		form.StartedAt, form.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.InvalidStatef("service form %d is no longer %s", form.ID, from)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, formID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, service_form_id, product_id, quantity, delivered_to_customer, notes
FROM service_form_items WHERE service_form_id = $1 ORDER BY id`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ServiceFormID, &item.ProductID, &item.Quantity, &item.DeliveredToCustomer, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanForm(row pgx.Row) (Form, error) {
	var (
		form    Form
		status  string
		vehicle *int64
	)
	err := row.Scan(&form.ID, &form.Number, &form.ProjectID, &vehicle, &form.TechnicianID, &status, &form.WorkDescription,
		&form.WorkPerformed, &form.Notes, &form.CustomerName, &form.CustomerSigned, &form.SignatureURL,
		&form.CreatedAt, &form.StartedAt, &form.CompletedAt)
	if err != nil {
		return Form{}, err
	}
	if vehicle != nil {
		form.VehicleWarehouseID = *vehicle
	}
	form.Status = Status(status)
	return form, nil
}
