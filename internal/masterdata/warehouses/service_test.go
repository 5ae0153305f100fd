package warehouses

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

type memoryRepo struct {
	mu         sync.Mutex
	nextID     int64
	warehouses map[int64]Warehouse
	// ledger maps warehouse id to the quantity on each product row.
	ledger map[int64]map[int64]int
	// moved holds warehouses named by at least one movement.
	moved map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{warehouses: map[int64]Warehouse{}, ledger: map[int64]map[int64]int{}, moved: map[int64]bool{}}
}

func (r *memoryRepo) List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Warehouse
	for _, w := range r.warehouses {
		if filters.Type != "" && string(w.Type) != filters.Type {
			continue
		}
		if filters.IsActive != nil && w.IsActive != *filters.IsActive {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(w.Name+w.Code), strings.ToLower(filters.Search)) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.warehouses[id]
	if !ok {
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", id)
	}
	return w, nil
}

func (r *memoryRepo) codeTaken(code string, except int64) bool {
	for _, w := range r.warehouses {
		if w.Code == code && w.ID != except {
			return true
		}
	}
	return false
}

func (r *memoryRepo) Create(ctx context.Context, w Warehouse) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codeTaken(w.Code, 0) {
		return Warehouse{}, internalShared.InvalidRequestf("warehouse code %s already exists", w.Code)
	}
	r.nextID++
	w.ID = r.nextID
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	r.warehouses[w.ID] = w
	return w, nil
}

func (r *memoryRepo) Update(ctx context.Context, w Warehouse) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.warehouses[w.ID]
	if !ok {
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", w.ID)
	}
	if r.codeTaken(w.Code, w.ID) {
		return Warehouse{}, internalShared.InvalidRequestf("warehouse code %s already exists", w.Code)
	}
	w.CreatedAt = current.CreatedAt
	r.warehouses[w.ID] = w
	return w, nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.warehouses[id]
	if !ok {
		return internalShared.NotFoundf("warehouse %d", id)
	}
	w.IsActive = false
	r.warehouses[id] = w
	return nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

type memoryTx struct {
	repo    *memoryRepo
	pending []func()
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Warehouse, error) {
	w, ok := tx.repo.warehouses[id]
	if !ok {
		return Warehouse{}, internalShared.NotFoundf("warehouse %d", id)
	}
	return w, nil
}

func (tx *memoryTx) StockedRows(ctx context.Context, id int64) (int, error) {
	count := 0
	for _, qty := range tx.repo.ledger[id] {
		if qty > 0 {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) HasMovements(ctx context.Context, id int64) (bool, error) {
	return tx.repo.moved[id], nil
}

func (tx *memoryTx) DeleteLedgerRows(ctx context.Context, id int64) (int, error) {
	n := len(tx.repo.ledger[id])
	tx.pending = append(tx.pending, func() { delete(tx.repo.ledger, id) })
	return n, nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	tx.pending = append(tx.pending, func() { delete(tx.repo.warehouses, id) })
	return nil
}

func newService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	return NewService(repo, nil), repo
}

func TestCreateWarehouseValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, Warehouse{Code: " van-01 ", Name: "Van 1", Type: "virtual", VehiclePlate: "b 1234 xy"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "VAN-01", created.Code)
	assert.Equal(t, stock.WarehouseVirtual, created.Type)
	assert.Equal(t, "B 1234 XY", created.VehiclePlate)
	assert.True(t, created.IsActive)

	cases := []struct {
		name string
		in   Warehouse
	}{
		{"missing code", Warehouse{Name: "X", Type: stock.WarehousePhysical}},
		{"missing name", Warehouse{Code: "X", Type: stock.WarehousePhysical}},
		{"unknown type", Warehouse{Code: "X", Name: "X", Type: "TRUCK"}},
		{"virtual without plate", Warehouse{Code: "X", Name: "X", Type: stock.WarehouseVirtual}},
		{"duplicate code", Warehouse{Code: "van-01", Name: "Other", Type: stock.WarehousePhysical}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in, 1)
			assert.True(t, errors.Is(err, internalShared.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestUpdateKeepsActiveFlag(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	w, err := svc.Create(ctx, Warehouse{Code: "WH1", Name: "Main", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, w.ID, 1))

	updated, err := svc.Update(ctx, w.ID, Warehouse{Code: "WH1", Name: "Main Depot", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Main Depot", updated.Name)
	assert.False(t, updated.IsActive)
	assert.False(t, updated.Ref().IsActive)

	_, err = svc.Update(ctx, 99, Warehouse{Code: "WH9", Name: "X", Type: stock.WarehousePhysical}, 1)
	assert.True(t, errors.Is(err, internalShared.ErrNotFound))
}

func TestHardDeleteRefusesStockedWarehouse(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	w, err := svc.Create(ctx, Warehouse{Code: "WH1", Name: "Main", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	repo.ledger[w.ID] = map[int64]int{100: 5, 200: 0}

	err = svc.HardDelete(ctx, w.ID, 1, false)
	require.True(t, errors.Is(err, internalShared.ErrInvalidState))
	_, err = svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, repo.ledger[w.ID], 2)

	require.NoError(t, svc.HardDelete(ctx, w.ID, 1, true))
	_, err = svc.Get(ctx, w.ID)
	assert.True(t, errors.Is(err, internalShared.ErrNotFound))
	assert.Empty(t, repo.ledger[w.ID])
}

func TestHardDeleteKeepsWarehouseWithMovementHistory(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	w, err := svc.Create(ctx, Warehouse{Code: "WH3", Name: "Old", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	repo.ledger[w.ID] = map[int64]int{100: 0}
	repo.moved[w.ID] = true

	for _, force := range []bool{false, true} {
		err = svc.HardDelete(ctx, w.ID, 1, force)
		require.True(t, errors.Is(err, internalShared.ErrInvalidState), "force=%v: got %v", force, err)
	}
	_, err = svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, repo.ledger[w.ID], 1)

	require.NoError(t, svc.Deactivate(ctx, w.ID, 1))
	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestHardDeleteEmptyWarehouse(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	w, err := svc.Create(ctx, Warehouse{Code: "WH2", Name: "Spare", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	repo.ledger[w.ID] = map[int64]int{100: 0}

	require.NoError(t, svc.HardDelete(ctx, w.ID, 1, false))
	assert.True(t, errors.Is(svc.HardDelete(ctx, w.ID, 1, false), internalShared.ErrNotFound))
}

func TestListFilters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, Warehouse{Code: "WH1", Name: "Main", Type: stock.WarehousePhysical}, 1)
	require.NoError(t, err)
	van, err := svc.Create(ctx, Warehouse{Code: "VAN1", Name: "Van", Type: stock.WarehouseVirtual, VehiclePlate: "B1"}, 1)
	require.NoError(t, err)

	items, total, err := svc.List(ctx, shared.ListFilters{Type: "VIRTUAL"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, van.ID, items[0].ID)

	inactive := false
	require.NoError(t, svc.Deactivate(ctx, van.ID, 1))
	items, _, err = svc.List(ctx, shared.ListFilters{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "VAN1", items[0].Code)
}
