package fieldservice

import (
	"context"
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
	project = int64(1)
	depot   = int64(10)
	van     = int64(30)
	cable   = int64(100)
	plug    = int64(200)
	tech    = int64(5)
)

var d = stocktest.D

type fixture struct {
	store *stocktest.Store
	repo  *memoryRepo
	svc   *Service
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := stocktest.NewStore()
	store.AddProject(project)
	store.AddWarehouse(depot, "DEPOT", stock.WarehousePhysical)
	store.AddWarehouse(van, "VAN-1", stock.WarehouseVirtual)
	store.AddProduct(cable, "CABLE", "4.00")
	store.AddProduct(plug, "PLUG", "1.50")
	store.SetBalance(van, cable, "5", "0")
	store.SetBalance(van, plug, "3", "0")

	f := &fixture{store: store, repo: newMemoryRepo(store), clock: time.Date(2026, 5, 2, 7, 30, 0, 0, time.UTC)}
	f.svc = NewService(f.repo, store, nil, nil)
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func (f *fixture) open(t *testing.T, vehicle int64) Form {
	t.Helper()
	form, err := f.svc.Create(context.Background(), CreateInput{
		ProjectID:          project,
		VehicleWarehouseID: vehicle,
		WorkDescription:    "replace panel",
		ActorID:            tech,
	})
	require.NoError(t, err)
	return form
}

func (f *fixture) add(t *testing.T, id, product int64, qty string, delivered bool) Form {
	t.Helper()
	form, err := f.svc.AddMaterial(context.Background(), id, MaterialInput{
		ProductID:           product,
		Quantity:            d(qty),
		DeliveredToCustomer: delivered,
		ActorID:             tech,
	})
	require.NoError(t, err)
	return form
}

func (f *fixture) vanQty(product int64) decimal.Decimal {
	bal, _ := f.store.Row(van, product)
	return bal.Quantity
}

func TestCreateValidatesVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	form := f.open(t, van)
	assert.Equal(t, StatusOpen, form.Status)
	assert.Equal(t, "SF-2026-0001", form.Number)
	assert.Equal(t, tech, form.TechnicianID)
	assert.Nil(t, form.StartedAt)

	_, err := f.svc.Create(ctx, CreateInput{ProjectID: project, VehicleWarehouseID: depot, ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: project, VehicleWarehouseID: 404, ActorID: tech})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 404, ActorID: tech})
	require.ErrorIs(t, err, shared.ErrNotFound)

	second := f.open(t, 0)
	assert.Equal(t, "SF-2026-0002", second.Number)
	assert.Zero(t, second.VehicleWarehouseID)
}

func TestFirstModificationStartsWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)

	form = f.add(t, form.ID, cable, "2", true)
	assert.Equal(t, StatusInProgress, form.Status)
	require.NotNil(t, form.StartedAt)
	started := *form.StartedAt
	require.Len(t, form.Items, 1)
	assert.True(t, f.vanQty(cable).Equal(d("5")), "adding material must not touch the ledger")
	assert.Empty(t, f.store.Movements())

	notes := "customer asked for spare"
	updated, err := f.svc.Update(ctx, form.ID, UpdateInput{Notes: &notes, ActorID: tech})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, "replace panel", updated.WorkDescription)
	require.NotNil(t, updated.StartedAt)
	assert.Equal(t, started, *updated.StartedAt)

	other := f.open(t, van)
	desc := "inspect"
	updated, err = f.svc.Update(ctx, other.ID, UpdateInput{WorkDescription: &desc, ActorID: tech})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
}

func TestCompleteDebitsVehicleAndRecordsServiceMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)
	f.add(t, form.ID, cable, "2", true)
	f.add(t, form.ID, cable, "3", true)
	f.add(t, form.ID, plug, "1", false)

	done, movements, err := f.svc.Complete(ctx, form.ID, CompleteInput{
		WorkPerformed:  "  panel replaced  ",
		CustomerName:   "R. Santoso",
		CustomerSigned: true,
		ActorID:        tech,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "panel replaced", done.WorkPerformed)
	assert.True(t, done.CustomerSigned)

	assert.True(t, f.vanQty(cable).Equal(decimal.Zero))
	assert.True(t, f.vanQty(plug).Equal(d("2")), "returned flag does not change the debit")

	require.Len(t, movements, 3)
	for _, mv := range movements {
		assert.Equal(t, stock.MovementService, mv.Type)
		assert.Equal(t, van, mv.FromWarehouseID)
		assert.Zero(t, mv.ToWarehouseID)
		assert.Equal(t, stock.RefServiceForm, mv.ReferenceType)
		assert.Equal(t, form.ID, mv.ReferenceID)
		assert.Equal(t, project, mv.ProjectID)
	}
	assert.True(t, movements[0].UnitCost.Equal(d("4.00")))
	assert.True(t, movements[2].UnitCost.Equal(d("1.50")))
}

func TestCompleteRejectsShortVehicleAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)
	f.add(t, form.ID, cable, "5", true)
	f.add(t, form.ID, plug, "2", true)
	f.add(t, form.ID, plug, "2", true)

	_, _, err := f.svc.Complete(ctx, form.ID, CompleteInput{ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	assert.True(t, f.vanQty(cable).Equal(d("5")))
	assert.True(t, f.vanQty(plug).Equal(d("3")))
	assert.Empty(t, f.store.Movements())
	stored, err := f.svc.Get(ctx, form.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestCompleteWithoutVehicleHasNoLedgerEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, 0)
	f.add(t, form.ID, cable, "50", true)

	_, movements, err := f.svc.Complete(ctx, form.ID, CompleteInput{ActorID: tech})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Zero(t, movements[0].FromWarehouseID)
	assert.Zero(t, movements[0].ToWarehouseID)
	assert.True(t, f.vanQty(cable).Equal(d("5")))
}

func TestCompletedFormIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)
	form = f.add(t, form.ID, cable, "1", true)

	_, _, err := f.svc.Complete(ctx, form.ID, CompleteInput{ActorID: tech})
	require.NoError(t, err)

	_, _, err = f.svc.Complete(ctx, form.ID, CompleteInput{ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.AddMaterial(ctx, form.ID, MaterialInput{ProductID: cable, Quantity: d("1"), ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	notes := "late"
	_, err = f.svc.Update(ctx, form.ID, UpdateInput{Notes: &notes, ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.RemoveMaterial(ctx, form.ID, form.Items[0].ID, tech)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	assert.True(t, f.vanQty(cable).Equal(d("4")))
	assert.Len(t, f.store.Movements(), 1)
}

func TestRemoveMaterial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)
	f.add(t, form.ID, cable, "1", true)
	form = f.add(t, form.ID, plug, "2", true)
	require.Len(t, form.Items, 2)

	form, err := f.svc.RemoveMaterial(ctx, form.ID, form.Items[0].ID, tech)
	require.NoError(t, err)
	require.Len(t, form.Items, 1)
	assert.Equal(t, plug, form.Items[0].ProductID)

	_, err = f.svc.RemoveMaterial(ctx, form.ID, 999, tech)
	require.ErrorIs(t, err, shared.ErrNotFound)

	stored, err := f.svc.Get(ctx, form.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}

func TestAddMaterialValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.open(t, van)

	_, err := f.svc.AddMaterial(ctx, form.ID, MaterialInput{ProductID: cable, Quantity: d("0"), ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)
	_, err = f.svc.AddMaterial(ctx, form.ID, MaterialInput{ProductID: cable, Quantity: d("2.0001"), ActorID: tech})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)
	_, err = f.svc.AddMaterial(ctx, form.ID, MaterialInput{ProductID: 404, Quantity: d("1"), ActorID: tech})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.AddMaterial(ctx, 404, MaterialInput{ProductID: cable, Quantity: d("1"), ActorID: tech})
	require.ErrorIs(t, err, shared.ErrNotFound)

	stored, err := f.svc.Get(ctx, form.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, stored.Status, "rejected changes must not start work")
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, van)
	f.open(t, 0)

	byVehicle, err := f.svc.List(ctx, ListFilter{VehicleWarehouseID: van})
	require.NoError(t, err)
	require.Len(t, byVehicle, 1)
	assert.Equal(t, a.ID, byVehicle[0].ID)

	all, err := f.svc.List(ctx, ListFilter{ProjectID: project})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
