package fieldservice

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(f *fixture, role string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, f.svc, rbac.Middleware{Service: rbac.NewService()})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), shared.Actor{ID: tech, Role: role})))
		})
	})
	r.Route("/service-forms", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCompleteFlow(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, rbac.RoleTechnician)

	rr := do(t, h, http.MethodPost, "/service-forms", `{"project_id":1,"vehicle_warehouse_id":30,"work_description":"fix"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var form Form
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&form))

	rr = do(t, h, http.MethodPost, "/service-forms/1/materials", `{"product_id":100,"quantity":"9"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/service-forms/1/complete", `{"work_performed":"done"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var problem map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	require.Equal(t, "5", problem["available"])
	require.Equal(t, "9", problem["requested"])

	rr = do(t, h, http.MethodDelete, "/service-forms/1/materials/1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(t, h, http.MethodPost, "/service-forms/1/materials", `{"product_id":100,"quantity":"2","delivered_to_customer":false}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/service-forms/1/complete", `{"work_performed":"done","customer_signed":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp completeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, StatusCompleted, resp.Form.Status)
	require.Len(t, resp.Movements, 1)

	rr = do(t, h, http.MethodPost, "/service-forms/1/complete", `{}`)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerEnforcesPermissions(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, rbac.RoleViewer)

	rr := do(t, h, http.MethodPost, "/service-forms", `{"project_id":1}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodGet, "/service-forms", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/service-forms/abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
