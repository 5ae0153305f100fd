package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
	"github.com/odyssey-erp/odyssey-stock/internal/stock/stocktest"
)

const (
	projectZ = int64(1)
	wh1      = int64(10)
	wh2      = int64(20)
	p1       = int64(100)
	p2       = int64(200)
	actor    = int64(7)
)

var d = stocktest.D

type fixture struct {
	store  *stocktest.Store
	repo   *memoryRepo
	ledger *stock.Service
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := stocktest.NewStore()
	store.AddProject(projectZ)
	store.AddWarehouse(wh1, "WH1", stock.WarehousePhysical)
	store.AddWarehouse(wh2, "WH2", stock.WarehousePhysical)
	store.AddProduct(p1, "P1", "12.50")
	store.AddProduct(p2, "P2", "3.00")
	store.SetBalance(wh1, p1, "70", "0")
	store.SetBalance(wh1, p2, "5", "0")

	repo := newMemoryRepo(store)
	ledger := stock.NewService(store, store, nil, nil, nil)
	svc := NewService(repo, store, ledger, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return &fixture{store: store, repo: repo, ledger: ledger, svc: svc}
}

func (f *fixture) create(t *testing.T, items ...ItemInput) Note {
	t.Helper()
	note, err := f.svc.Create(context.Background(), CreateInput{
		ProjectID:       projectZ,
		FromWarehouseID: wh1,
		ToWarehouseID:   wh2,
		Items:           items,
		ActorID:         actor,
	})
	require.NoError(t, err)
	return note
}

func qty(t *testing.T, f *fixture, wh, product int64) decimal.Decimal {
	t.Helper()
	bal, ok := f.store.Row(wh, product)
	if !ok {
		return decimal.Zero
	}
	return bal.Quantity
}

func TestDeliveryNoteLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, ItemInput{ProductID: p1, Quantity: d("10")})
	assert.Equal(t, StatusPending, note.Status)
	assert.Equal(t, "DN-2026-0001", note.Number)
	assert.True(t, qty(t, f, wh1, p1).Equal(d("70")), "create must not touch stock")

	shipped, err := f.svc.Ship(ctx, note.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)
	assert.True(t, qty(t, f, wh1, p1).Equal(d("60")))
	assert.Empty(t, f.store.Movements(), "ship records no movement")

	delivered, movements, err := f.svc.Deliver(ctx, note.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.ReceivedBy)
	assert.Equal(t, actor, *delivered.ReceivedBy)
	assert.True(t, qty(t, f, wh2, p1).Equal(d("10")))
	assert.True(t, qty(t, f, wh1, p1).Equal(d("60")))

	require.Len(t, movements, 1)
	mv := movements[0]
	assert.Equal(t, stock.MovementTransfer, mv.Type)
	assert.Equal(t, wh1, mv.FromWarehouseID)
	assert.Equal(t, wh2, mv.ToWarehouseID)
	assert.True(t, mv.Quantity.Equal(d("10")))
	assert.True(t, mv.UnitCost.Equal(d("12.50")))
	assert.Equal(t, stock.RefDeliveryNote, mv.ReferenceType)
	assert.Equal(t, note.ID, mv.ReferenceID)
	assert.Equal(t, note.Number, mv.Notes)
	assert.Equal(t, projectZ, mv.ProjectID)
	assert.Len(t, f.store.Movements(), 1)

	stored, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, stored.Status)
}

func TestShipFailsWhenSourceDroppedAfterCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, ItemInput{ProductID: p1, Quantity: d("10")})

	_, err := f.ledger.PostMovement(ctx, stock.ManualMovementInput{
		Type:            stock.MovementOut,
		ProjectID:       projectZ,
		ProductID:       p1,
		FromWarehouseID: wh1,
		Quantity:        d("65"),
		ActorID:         actor,
	})
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stored, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.ShippedAt)
	assert.True(t, qty(t, f, wh1, p1).Equal(d("5")))
}

func TestTransitionsRequireActiveWarehouses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.create(t, ItemInput{ProductID: p1, Quantity: d("10")})

	f.store.PutWarehouse(stock.WarehouseRef{ID: wh1, Code: "WH1", Name: "WH1", Type: stock.WarehousePhysical})
	_, err := f.svc.Ship(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	stored, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.True(t, qty(t, f, wh1, p1).Equal(d("70")))

	f.store.AddWarehouse(wh1, "WH1", stock.WarehousePhysical)
	_, err = f.svc.Ship(ctx, note.ID, actor)
	require.NoError(t, err)

	f.store.PutWarehouse(stock.WarehouseRef{ID: wh2, Code: "WH2", Name: "WH2", Type: stock.WarehousePhysical})
	_, _, err = f.svc.Deliver(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	stored, err = f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, stored.Status)
	assert.True(t, qty(t, f, wh2, p1).IsZero())
	assert.Empty(t, f.store.Movements())

	f.store.AddWarehouse(wh2, "WH2", stock.WarehousePhysical)
	_, movements, err := f.svc.Deliver(ctx, note.ID, actor)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.True(t, qty(t, f, wh2, p1).Equal(d("10")))
}

func TestShipIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t,
		ItemInput{ProductID: p1, Quantity: d("10")},
		ItemInput{ProductID: p2, Quantity: d("5")},
	)
	// reserve part of P2 so its line no longer clears availability
	_, err := f.ledger.Reserve(ctx, stock.ReserveInput{ProjectID: projectZ, ProductID: p2, WarehouseID: wh1, Quantity: d("1"), ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, note.ID, actor)
	var insufficient *shared.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, p2, insufficient.ProductID)
	assert.True(t, insufficient.Available.Equal(d("4")))

	assert.True(t, qty(t, f, wh1, p1).Equal(d("70")), "first line must roll back")
	stored, _ := f.svc.Get(ctx, note.ID)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInput{
		ProjectID:       projectZ,
		FromWarehouseID: wh1,
		ToWarehouseID:   wh2,
		Items:           []ItemInput{{ProductID: p1, Quantity: d("1")}},
		ActorID:         actor,
	}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
		want   error
	}{
		{"unknown project", func(in *CreateInput) { in.ProjectID = 99 }, shared.ErrNotFound},
		{"unknown source", func(in *CreateInput) { in.FromWarehouseID = 99 }, shared.ErrNotFound},
		{"unknown destination", func(in *CreateInput) { in.ToWarehouseID = 99 }, shared.ErrNotFound},
		{"same warehouse", func(in *CreateInput) { in.ToWarehouseID = wh1 }, shared.ErrInvalidRequest},
		{"no items", func(in *CreateInput) { in.Items = nil }, shared.ErrInvalidRequest},
		{"zero quantity", func(in *CreateInput) { in.Items = []ItemInput{{ProductID: p1, Quantity: d("0")}} }, shared.ErrInvalidRequest},
		{"quantity finer than the ledger", func(in *CreateInput) { in.Items = []ItemInput{{ProductID: p1, Quantity: d("1.0005")}} }, shared.ErrInvalidRequest},
		{"unknown product", func(in *CreateInput) { in.Items = []ItemInput{{ProductID: 999, Quantity: d("1")}} }, shared.ErrNotFound},
		{"summed lines exceed available", func(in *CreateInput) {
			in.Items = []ItemInput{{ProductID: p1, Quantity: d("40")}, {ProductID: p1, Quantity: d("31")}}
		}, shared.ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := f.svc.Create(ctx, in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	notes, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestStatusesOnlyMoveForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.create(t, ItemInput{ProductID: p1, Quantity: d("10")})

	_, _, err := f.svc.Deliver(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState, "deliver before ship")

	_, err = f.svc.Ship(ctx, note.ID, actor)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState, "ship twice")

	_, _, err = f.svc.Deliver(ctx, note.ID, actor)
	require.NoError(t, err)
	_, _, err = f.svc.Deliver(ctx, note.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState, "deliver twice")

	assert.True(t, qty(t, f, wh2, p1).Equal(d("10")))
	assert.Len(t, f.store.Movements(), 1)

	_, err = f.svc.Ship(ctx, 404, actor)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateAndDeleteOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	updated, err := f.svc.UpdateNotes(ctx, pending.ID, actor, "  gate 3  ")
	require.NoError(t, err)
	assert.Equal(t, "gate 3", updated.Notes)
	require.NoError(t, f.svc.Delete(ctx, pending.ID, actor))
	_, err = f.svc.Get(ctx, pending.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	shipped := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	_, err = f.svc.Ship(ctx, shipped.ID, actor)
	require.NoError(t, err)
	_, err = f.svc.UpdateNotes(ctx, shipped.ID, actor, "late")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.ErrorIs(t, f.svc.Delete(ctx, shipped.ID, actor), shared.ErrInvalidState)
}

func TestNoteNumbersIncrementAndRetryOnCollision(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	second := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	assert.Equal(t, "DN-2026-0001", first.Number)
	assert.Equal(t, "DN-2026-0002", second.Number)

	f.repo.collisions = 2
	third := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	assert.Equal(t, "DN-2026-0003", third.Number)

	f.repo.collisions = DefaultNumberRetries
	_, err := f.svc.Create(context.Background(), CreateInput{
		ProjectID:       projectZ,
		FromWarehouseID: wh1,
		ToWarehouseID:   wh2,
		Items:           []ItemInput{{ProductID: p1, Quantity: d("1")}},
		ActorID:         actor,
	})
	require.ErrorIs(t, err, ErrNumberTaken)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	f.create(t, ItemInput{ProductID: p1, Quantity: d("1")})
	_, err := f.svc.Ship(ctx, a.ID, actor)
	require.NoError(t, err)

	transit, err := f.svc.List(ctx, ListFilter{Status: StatusInTransit})
	require.NoError(t, err)
	require.Len(t, transit, 1)
	assert.Equal(t, a.ID, transit[0].ID)

	_, err = f.svc.List(ctx, ListFilter{Status: "LOST"})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)

	_, err = ParseStatus("in_transit")
	require.NoError(t, err)
}
