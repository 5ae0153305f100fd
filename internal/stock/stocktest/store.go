// Package stocktest provides an in-memory ledger for tests of packages that
// build on the stock ledger.
package stocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

type key struct {
	warehouseID int64
	productID   int64
}

// Store is an in-memory stock.RepositoryPort and stock.Directory.
// Transactions are serialised by a mutex and rolled back from a snapshot
// when the callback fails.
type Store struct {
	mu           sync.Mutex
	balances     map[key]stock.Balance
	movements    []stock.Movement
	reservations map[int64]stock.Reservation
	nextMoveID   int64
	nextResID    int64
	clock        time.Time

	dirMu      sync.RWMutex
	projects   map[int64]bool
	products   map[int64]stock.ProductRef
	warehouses map[int64]stock.WarehouseRef

	// FailInsertMovement, when set, is returned by InsertMovement.
	FailInsertMovement error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		balances:     make(map[key]stock.Balance),
		reservations: make(map[int64]stock.Reservation),
		projects:     make(map[int64]bool),
		products:     make(map[int64]stock.ProductRef),
		warehouses:   make(map[int64]stock.WarehouseRef),
		clock:        time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AddProject registers a project id.
func (s *Store) AddProject(id int64) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.projects[id] = true
}

// AddProduct registers an active product with the given cost.
func (s *Store) AddProduct(id int64, sku string, cost string) {
	s.PutProduct(stock.ProductRef{ID: id, SKU: sku, Name: sku, Cost: D(cost), IsActive: true})
}

// PutProduct stores a product as given.
func (s *Store) PutProduct(p stock.ProductRef) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.products[p.ID] = p
}

// AddWarehouse registers an active warehouse.
func (s *Store) AddWarehouse(id int64, code string, t stock.WarehouseType) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.warehouses[id] = stock.WarehouseRef{ID: id, Code: code, Name: code, Type: t, IsActive: true}
}

// PutWarehouse stores a warehouse as given.
func (s *Store) PutWarehouse(w stock.WarehouseRef) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.warehouses[w.ID] = w
}

// SetBalance writes a ledger row directly.
func (s *Store) SetBalance(warehouseID, productID int64, quantity, reserved string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key{warehouseID, productID}] = stock.Balance{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    D(quantity),
		Reserved:    D(reserved),
		UpdatedAt:   s.clock,
	}
}

// Row returns the ledger row and whether it exists.
func (s *Store) Row(warehouseID, productID int64) (stock.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[key{warehouseID, productID}]
	return bal, ok
}

// Balances returns every ledger row.
func (s *Store) Balances() []stock.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Balance, 0, len(s.balances))
	for _, bal := range s.balances {
		out = append(out, bal)
	}
	return out
}

// Movements returns every movement in insertion order.
func (s *Store) Movements() []stock.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// Atomic runs fn as one ledger transaction.
func (s *Store) Atomic(ctx context.Context, fn func(context.Context, stock.LedgerTx) error) error {
	return s.atomic(func() error {
		return fn(ctx, &memoryTx{store: s})
	})
}

// WithTx implements stock.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	return s.atomic(func() error {
		return fn(ctx, &memoryTx{store: s})
	})
}

func (s *Store) atomic(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances := make(map[key]stock.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	reservations := make(map[int64]stock.Reservation, len(s.reservations))
	for k, v := range s.reservations {
		reservations[k] = v
	}
	movements := len(s.movements)
	if err := fn(); err != nil {
		s.balances = balances
		s.reservations = reservations
		s.movements = s.movements[:movements]
		return err
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, warehouseID, productID int64) (stock.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[key{warehouseID, productID}]; ok {
		return bal, nil
	}
	return stock.Balance{WarehouseID: warehouseID, ProductID: productID}, stock.ErrBalanceNotFound
}

func (s *Store) ListBalancesByProduct(ctx context.Context, productID int64) ([]stock.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []stock.Balance{}
	for k, bal := range s.balances {
		if k.productID == productID {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WarehouseID < out[j].WarehouseID })
	return out, nil
}

func (s *Store) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []stock.Movement{}
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		switch {
		case filter.ProjectID != 0 && mv.ProjectID != filter.ProjectID,
			filter.ProductID != 0 && mv.ProductID != filter.ProductID,
			filter.WarehouseID != 0 && mv.FromWarehouseID != filter.WarehouseID && mv.ToWarehouseID != filter.WarehouseID,
			filter.Type != "" && mv.Type != filter.Type,
			filter.ReferenceType != "" && mv.ReferenceType != filter.ReferenceType,
			filter.ReferenceID != 0 && mv.ReferenceID != filter.ReferenceID:
			continue
		}
		out = append(out, mv)
	}
	return paginate(out, filter.Page), nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (stock.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return stock.Reservation{}, shared.NotFoundf("reservation %d", id)
	}
	return res, nil
}

func (s *Store) ListReservations(ctx context.Context, filter stock.ReservationFilter) ([]stock.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []stock.Reservation{}
	for _, res := range s.reservations {
		switch {
		case filter.ProjectID != 0 && res.ProjectID != filter.ProjectID,
			filter.ProductID != 0 && res.ProductID != filter.ProductID,
			filter.WarehouseID != 0 && res.WarehouseID != filter.WarehouseID,
			filter.Status != "" && res.Status != filter.Status:
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, filter.Page), nil
}

func (s *Store) Summary(ctx context.Context, filter stock.SummaryFilter) ([]stock.SummaryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	out := []stock.SummaryRow{}
	for k, bal := range s.balances {
		if filter.WarehouseID != 0 && k.warehouseID != filter.WarehouseID ||
			filter.ProductID != 0 && k.productID != filter.ProductID ||
			filter.OnlyPositive && !bal.Quantity.IsPositive() {
			continue
		}
		wh, p := s.warehouses[k.warehouseID], s.products[k.productID]
		out = append(out, stock.SummaryRow{
			WarehouseID:   k.warehouseID,
			WarehouseCode: wh.Code,
			WarehouseName: wh.Name,
			ProductID:     k.productID,
			ProductSKU:    p.SKU,
			ProductName:   p.Name,
			Quantity:      bal.Quantity,
			Reserved:      bal.Reserved,
			Available:     bal.Available(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseCode != out[j].WarehouseCode {
			return out[i].WarehouseCode < out[j].WarehouseCode
		}
		return out[i].ProductSKU < out[j].ProductSKU
	})
	return out, nil
}

// ProjectExists implements stock.Directory.
func (s *Store) ProjectExists(ctx context.Context, id int64) (bool, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	return s.projects[id], nil
}

// Product implements stock.Directory.
func (s *Store) Product(ctx context.Context, id int64) (stock.ProductRef, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return stock.ProductRef{}, shared.NotFoundf("product %d", id)
	}
	return p, nil
}

// Warehouse implements stock.Directory.
func (s *Store) Warehouse(ctx context.Context, id int64) (stock.WarehouseRef, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	w, ok := s.warehouses[id]
	if !ok {
		return stock.WarehouseRef{}, shared.NotFoundf("warehouse %d", id)
	}
	return w, nil
}

// memoryTx runs with Store.mu held.
type memoryTx struct {
	store *Store
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (stock.Balance, error) {
	if bal, ok := tx.store.balances[key{warehouseID, productID}]; ok {
		return bal, nil
	}
	return stock.Balance{WarehouseID: warehouseID, ProductID: productID}, stock.ErrBalanceNotFound
}

func (tx *memoryTx) EnsureBalance(ctx context.Context, warehouseID, productID int64) error {
	k := key{warehouseID, productID}
	if _, ok := tx.store.balances[k]; !ok {
		tx.store.balances[k] = stock.Balance{WarehouseID: warehouseID, ProductID: productID, UpdatedAt: tx.store.clock}
	}
	return nil
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance stock.Balance) error {
	balance.UpdatedAt = tx.store.clock
	tx.store.balances[key{balance.WarehouseID, balance.ProductID}] = balance
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv stock.Movement) (stock.Movement, error) {
	if tx.store.FailInsertMovement != nil {
		return stock.Movement{}, tx.store.FailInsertMovement
	}
	tx.store.nextMoveID++
	tx.store.clock = tx.store.clock.Add(time.Second)
	mv.ID = tx.store.nextMoveID
	mv.CreatedAt = tx.store.clock
	tx.store.movements = append(tx.store.movements, mv)
	return mv, nil
}

func (tx *memoryTx) InsertReservation(ctx context.Context, res stock.Reservation) (stock.Reservation, error) {
	tx.store.nextResID++
	res.ID = tx.store.nextResID
	tx.store.reservations[res.ID] = res
	return res, nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, id int64) (stock.Reservation, error) {
	res, ok := tx.store.reservations[id]
	if !ok {
		return stock.Reservation{}, shared.NotFoundf("reservation %d", id)
	}
	return res, nil
}

func (tx *memoryTx) UpdateReservation(ctx context.Context, res stock.Reservation) error {
	if _, ok := tx.store.reservations[res.ID]; !ok {
		return shared.NotFoundf("reservation %d", res.ID)
	}
	tx.store.reservations[res.ID] = res
	return nil
}

func paginate[T any](items []T, page shared.PageRequest) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
