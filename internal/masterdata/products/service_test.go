package products

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	internalShared "github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]Product
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[int64]Product{}}
}

func (r *memoryRepo) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if filters.Type == "BOM" && !p.IsBOM {
			continue
		}
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, internalShared.NotFoundf("product %d", id)
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.products {
		if existing.SKU == p.SKU {
			return Product{}, internalShared.InvalidRequestf("product sku %s already exists", p.SKU)
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) Update(ctx context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.products[p.ID]
	if !ok {
		return Product{}, internalShared.NotFoundf("product %d", p.ID)
	}
	p.SKU = current.SKU
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return internalShared.NotFoundf("product %d", id)
	}
	p.IsActive = false
	r.products[id] = p
	return nil
}

func TestProductLifecycle(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Product{SKU: " cable-2m ", Name: "Cable", Cost: decimal.RequireFromString("4.005")}, 1)
	require.NoError(t, err)
	assert.Equal(t, "CABLE-2M", p.SKU)
	assert.Equal(t, "pcs", p.Unit)
	assert.True(t, decimal.RequireFromString("4.01").Equal(p.Cost))
	assert.True(t, p.Ref().IsActive)

	_, err = svc.Create(ctx, Product{SKU: "CABLE-2M", Name: "Dup"}, 1)
	assert.True(t, errors.Is(err, internalShared.ErrInvalidRequest))

	updated, err := svc.Update(ctx, p.ID, UpdateInput{SKU: "cable-2m", Name: "Cable 2m", Unit: "roll", Cost: decimal.NewFromInt(5), IsBOM: true}, 1)
	require.NoError(t, err)
	assert.Equal(t, "CABLE-2M", updated.SKU)
	assert.Equal(t, "roll", updated.Unit)
	assert.True(t, updated.Ref().IsBOM)

	_, err = svc.Update(ctx, p.ID, UpdateInput{SKU: "OTHER", Name: "Cable"}, 1)
	assert.True(t, errors.Is(err, internalShared.ErrInvalidRequest))

	_, err = svc.Update(ctx, p.ID, UpdateInput{Name: "Cable", Cost: decimal.NewFromInt(-1)}, 1)
	assert.True(t, errors.Is(err, internalShared.ErrInvalidRequest))

	require.NoError(t, svc.Deactivate(ctx, p.ID, 1))
	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.True(t, errors.Is(svc.Deactivate(ctx, 42, 1), internalShared.ErrNotFound))
}

func TestProductHandlerPermissions(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, rbac.Middleware{Service: rbac.NewService()})

	router := func(role string) http.Handler {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(internalShared.ContextWithActor(r.Context(), internalShared.Actor{ID: 1, Role: role})))
			})
		})
		r.Route("/products", h.MountRoutes)
		return r
	}
	do := func(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	admin := router(rbac.RoleAdmin)
	rr := do(admin, http.MethodPost, "/products", `{"sku":"P-1","name":"Widget","cost":"2.50"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = do(admin, http.MethodPut, "/products/1", `{"sku":"P-2","name":"Widget"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	viewer := router(rbac.RoleViewer)
	rr = do(viewer, http.MethodGet, "/products?type=BOM", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":0`)
	rr = do(viewer, http.MethodPost, "/products", `{"sku":"P-3","name":"X"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(viewer, http.MethodGet, "/products/9", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
