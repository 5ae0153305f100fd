package delivery

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/internal/stock/stocktest"
)

// memoryRepo keeps notes next to a stocktest ledger so both roll back together.
type memoryRepo struct {
	store *stocktest.Store

	mu         sync.Mutex
	notes      map[int64]Note
	nextID     int64
	nextItemID int64
	// collisions forces the next InsertNote calls to fail with ErrNumberTaken.
	collisions int
}

func newMemoryRepo(store *stocktest.Store) *memoryRepo {
	return &memoryRepo{store: store, notes: make(map[int64]Note)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.Atomic(ctx, func(ctx context.Context, ltx stock.LedgerTx) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		snapshot := make(map[int64]Note, len(m.notes))
		for id, n := range m.notes {
			snapshot[id] = n
		}
		nextID, nextItemID := m.nextID, m.nextItemID
		if err := fn(ctx, &memoryTx{LedgerTx: ltx, repo: m}); err != nil {
			m.notes = snapshot
			m.nextID, m.nextItemID = nextID, nextItemID
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetNote(ctx context.Context, id int64) (Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return Note{}, shared.NotFoundf("delivery note %d", id)
	}
	return n, nil
}

func (m *memoryRepo) ListNotes(ctx context.Context, filter ListFilter) ([]Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Note
	for _, n := range m.notes {
		if filter.ProjectID > 0 && n.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memoryTx struct {
	stock.LedgerTx
	repo *memoryRepo
}

func (tx *memoryTx) LastNumber(ctx context.Context, year int) (string, error) {
	head := strings.TrimSuffix(shared.DocNumberPattern(shared.PrefixDeliveryNote, year), "%")
	last := ""
	for _, n := range tx.repo.notes {
		if !strings.HasPrefix(n.Number, head) {
			continue
		}
		if len(n.Number) > len(last) || (len(n.Number) == len(last) && n.Number > last) {
			last = n.Number
		}
	}
	return last, nil
}

func (tx *memoryTx) InsertNote(ctx context.Context, note Note) (Note, error) {
	if tx.repo.collisions > 0 {
		tx.repo.collisions--
		return Note{}, ErrNumberTaken
	}
	for _, n := range tx.repo.notes {
		if n.Number == note.Number {
			return Note{}, ErrNumberTaken
		}
	}
	tx.repo.nextID++
	note.ID = tx.repo.nextID
	items := make([]Item, len(note.Items))
	for i, item := range note.Items {
		tx.repo.nextItemID++
		item.ID = tx.repo.nextItemID
		item.DeliveryNoteID = note.ID
		items[i] = item
	}
	note.Items = items
	tx.repo.notes[note.ID] = note
	return note, nil
}

func (tx *memoryTx) GetNoteForUpdate(ctx context.Context, id int64) (Note, error) {
	n, ok := tx.repo.notes[id]
	if !ok {
		return Note{}, shared.NotFoundf("delivery note %d", id)
	}
	return n, nil
}

func (tx *memoryTx) Transition(ctx context.Context, id int64, t Transition) error {
	n, ok := tx.repo.notes[id]
	if !ok || n.Status != t.From {
		return shared.InvalidStatef("delivery note %d is no longer %s", id, t.From)
	}
	at, by := t.At, t.By
	n.Status = t.To
	switch t.To {
	case StatusInTransit:
		n.ShippedAt, n.ShippedBy = &at, &by
	case StatusDelivered:
		n.DeliveredAt, n.ReceivedBy = &at, &by
	}
	tx.repo.notes[id] = n
	return nil
}

func (tx *memoryTx) UpdateNotes(ctx context.Context, id int64, notes string) error {
	n := tx.repo.notes[id]
	n.Notes = notes
	tx.repo.notes[id] = n
	return nil
}

func (tx *memoryTx) DeleteNote(ctx context.Context, id int64) error {
	delete(tx.repo.notes, id)
	return nil
}
