package delivery

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

const numberConstraint = "delivery_notes_number_key"

// Repository provides PostgreSQL backed persistence for delivery notes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	stock.LedgerTx
	tx pgx.Tx
}

// WithTx wraps callback in a transaction shared with the stock ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{LedgerTx: stock.NewLedgerTx(tx), tx: tx})
	})
}

const noteColumns = `id, note_number, project_id, from_warehouse_id, to_warehouse_id, status, notes,
       created_by, created_at, shipped_at, shipped_by, delivered_at, received_by`

// ============================================================================
// READS
// ============================================================================

// GetNote retrieves a delivery note by ID with its items.
func (r *Repository) GetNote(ctx context.Context, id int64) (Note, error) {
	note, err := scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, shared.NotFoundf("delivery note %d", id)
		}
		return Note{}, err
	}
	note.Items, err = loadItems(ctx, r.pool, id)
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// ListNotes lists notes newest first, items included.
func (r *Repository) ListNotes(ctx context.Context, filter ListFilter) ([]Note, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProjectID > 0 {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + noteColumns + ` FROM delivery_notes`
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
	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range notes {
		if notes[i].Items, err = loadItems(ctx, r.pool, notes[i].ID); err != nil {
			return nil, err
		}
	}
	return notes, nil
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

// LastNumber returns the highest note number issued in year, or "".
func (t *txRepo) LastNumber(ctx context.Context, year int) (string, error) {
	var last string
	err := t.tx.QueryRow(ctx, `SELECT note_number FROM delivery_notes WHERE note_number LIKE $1
ORDER BY length(note_number) DESC, note_number DESC LIMIT 1`, shared.DocNumberPattern(shared.PrefixDeliveryNote, year)).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

// InsertNote stores the header and items.
func (t *txRepo) InsertNote(ctx context.Context, note Note) (Note, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO delivery_notes (note_number, project_id, from_warehouse_id, to_warehouse_id, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		note.Number, note.ProjectID, note.FromWarehouseID, note.ToWarehouseID, string(note.Status), note.Notes, note.CreatedBy, note.CreatedAt).Scan(&note.ID)
	if err != nil {
		if db.IsUniqueViolation(err, numberConstraint) {
			return Note{}, ErrNumberTaken
		}
		return Note{}, err
	}
	for i := range note.Items {
		note.Items[i].DeliveryNoteID = note.ID
		item := note.Items[i]
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_note_items (delivery_note_id, product_id, quantity, notes)
VALUES ($1,$2,$3,$4) RETURNING id`, note.ID, item.ProductID, item.Quantity, item.Notes).Scan(&note.Items[i].ID); err != nil {
			return Note{}, err
		}
	}
	return note, nil
}

// GetNoteForUpdate locks the header row and loads items.
func (t *txRepo) GetNoteForUpdate(ctx context.Context, id int64) (Note, error) {
	note, err := scanNote(t.tx.QueryRow(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, shared.NotFoundf("delivery note %d", id)
		}
		return Note{}, err
	}
	note.Items, err = loadItems(ctx, t.tx, id)
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// Transition updates status with compare-and-set on the previous status.
func (t *txRepo) Transition(ctx context.Context, id int64, tr Transition) error {
	var query string
	switch tr.To {
	case StatusInTransit:
		query = `UPDATE delivery_notes SET status = $3, shipped_at = $4, shipped_by = $5 WHERE id = $1 AND status = $2`
	case StatusDelivered:
		query = `UPDATE delivery_notes SET status = $3, delivered_at = $4, received_by = $5 WHERE id = $1 AND status = $2`
	default:
		return shared.InvalidRequestf("unsupported transition to %s", tr.To)
	}
	tag, err := t.tx.Exec(ctx, query, id, string(tr.From), string(tr.To), tr.At, tr.By)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.InvalidStatef("delivery note %d is no longer %s", id, tr.From)
	}
	return nil
}

// UpdateNotes replaces the notes column.
func (t *txRepo) UpdateNotes(ctx context.Context, id int64, notes string) error {
	_, err := t.tx.Exec(ctx, `UPDATE delivery_notes SET notes = $2 WHERE id = $1`, id, notes)
	return err
}

// DeleteNote removes the note; items cascade.
func (t *txRepo) DeleteNote(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM delivery_notes WHERE id = $1`, id)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, noteID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_note_id, product_id, quantity, notes
FROM delivery_note_items WHERE delivery_note_id = $1 ORDER BY id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.DeliveryNoteID, &item.ProductID, &item.Quantity, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanNote(row pgx.Row) (Note, error) {
	var (
		note   Note
		status string
	)
	err := row.Scan(&note.ID, &note.Number, &note.ProjectID, &note.FromWarehouseID, &note.ToWarehouseID, &status, &note.Notes,
		&note.CreatedBy, &note.CreatedAt, &note.ShippedAt, &note.ShippedBy, &note.DeliveredAt, &note.ReceivedBy)
	if err != nil {
		return Note{}, err
	}
	note.Status = Status(status)
	return note, nil
}
