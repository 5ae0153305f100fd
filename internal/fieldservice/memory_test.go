package fieldservice

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/internal/stock/stocktest"
)

type memoryRepo struct {
	store *stocktest.Store

	mu         sync.Mutex
	forms      map[int64]Form
	nextID     int64
	nextItemID int64
	collisions int
}

func newMemoryRepo(store *stocktest.Store) *memoryRepo {
	return &memoryRepo{store: store, forms: make(map[int64]Form)}
}

func cloneForm(f Form) Form {
	f.Items = append([]Item{}, f.Items...)
	return f
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.Atomic(ctx, func(ctx context.Context, ltx stock.LedgerTx) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		snapshot := make(map[int64]Form, len(m.forms))
		for id, f := range m.forms {
			snapshot[id] = cloneForm(f)
		}
		nextID, nextItemID := m.nextID, m.nextItemID
		if err := fn(ctx, &memoryTx{LedgerTx: ltx, repo: m}); err != nil {
			m.forms = snapshot
			m.nextID, m.nextItemID = nextID, nextItemID
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetForm(ctx context.Context, id int64) (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[id]
	if !ok {
		return Form{}, shared.NotFoundf("service form %d", id)
	}
	return cloneForm(f), nil
}

func (m *memoryRepo) ListForms(ctx context.Context, filter ListFilter) ([]Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Form
	for _, f := range m.forms {
		if filter.ProjectID > 0 && f.ProjectID != filter.ProjectID {
			continue
		}
		if filter.VehicleWarehouseID > 0 && f.VehicleWarehouseID != filter.VehicleWarehouseID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, cloneForm(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memoryTx struct {
	stock.LedgerTx
	repo *memoryRepo
}

func (tx *memoryTx) LastNumber(ctx context.Context, year int) (string, error) {
	head := strings.TrimSuffix(shared.DocNumberPattern(shared.PrefixServiceForm, year), "%")
	last := ""
	for _, f := range tx.repo.forms {
		if strings.HasPrefix(f.Number, head) && (len(f.Number) > len(last) || (len(f.Number) == len(last) && f.Number > last)) {
			last = f.Number
		}
	}
	return last, nil
}

func (tx *memoryTx) InsertForm(ctx context.Context, form Form) (Form, error) {
	if tx.repo.collisions > 0 {
		tx.repo.collisions--
		return Form{}, ErrNumberTaken
	}
	tx.repo.nextID++
	form.ID = tx.repo.nextID
	form.Items = []Item{}
	tx.repo.forms[form.ID] = form
	return cloneForm(form), nil
}

func (tx *memoryTx) GetFormForUpdate(ctx context.Context, id int64) (Form, error) {
	f, ok := tx.repo.forms[id]
	if !ok {
		return Form{}, shared.NotFoundf("service form %d", id)
	}
	return cloneForm(f), nil
}

func (tx *memoryTx) UpdateForm(ctx context.Context, form Form) error {
	stored := tx.repo.forms[form.ID]
	stored.Status = form.Status
	stored.WorkDescription = form.WorkDescription
	stored.Notes = form.Notes
	stored.TechnicianID = form.TechnicianID
	stored.StartedAt = form.StartedAt
	tx.repo.forms[form.ID] = stored
	return nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (Item, error) {
	tx.repo.nextItemID++
	item.ID = tx.repo.nextItemID
	f := tx.repo.forms[item.ServiceFormID]
	f.Items = append(append([]Item{}, f.Items...), item)
	tx.repo.forms[item.ServiceFormID] = f
	return item, nil
}

func (tx *memoryTx) DeleteItem(ctx context.Context, formID, itemID int64) error {
	f := tx.repo.forms[formID]
	kept := make([]Item, 0, len(f.Items))
	for _, item := range f.Items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(f.Items) {
		return shared.NotFoundf("service form %d item %d", formID, itemID)
	}
	f.Items = kept
	tx.repo.forms[formID] = f
	return nil
}

func (tx *memoryTx) CompleteForm(ctx context.Context, form Form, from Status) error {
	stored, ok := tx.repo.forms[form.ID]
	if !ok || stored.Status != from {
		return shared.InvalidStatef("service form %d is no longer %s", form.ID, from)
	}
	form.Items = stored.Items
	tx.repo.forms[form.ID] = form
	return nil
}
