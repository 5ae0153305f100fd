package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newMiddleware(t *testing.T) (Middleware, *shared.TokenStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens := shared.NewTokenStore(client, time.Hour)
	return Middleware{Service: NewService(), Tokens: tokens}, tokens
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		w.Header().Set("X-Actor-Role", actor.Role)
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticateResolvesActor(t *testing.T) {
	mw, tokens := newMiddleware(t)
	token, err := tokens.Issue(context.Background(), shared.Actor{ID: 7, Role: RoleWarehouse})
	require.NoError(t, err)

	rr := serve(mw.Authenticate(okHandler()), token)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, RoleWarehouse, rr.Header().Get("X-Actor-Role"))
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	mw, tokens := newMiddleware(t)

	require.Equal(t, http.StatusUnauthorized, serve(mw.Authenticate(okHandler()), "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(mw.Authenticate(okHandler()), "nope").Code)

	token, err := tokens.Issue(context.Background(), shared.Actor{ID: 7, Role: RoleViewer})
	require.NoError(t, err)
	require.NoError(t, tokens.Revoke(context.Background(), token))
	require.Equal(t, http.StatusUnauthorized, serve(mw.Authenticate(okHandler()), token).Code)
}

func TestRequireAnyAndAll(t *testing.T) {
	mw, tokens := newMiddleware(t)
	viewer, err := tokens.Issue(context.Background(), shared.Actor{ID: 1, Role: RoleViewer})
	require.NoError(t, err)
	tech, err := tokens.Issue(context.Background(), shared.Actor{ID: 2, Role: RoleTechnician})
	require.NoError(t, err)

	complete := mw.Authenticate(mw.RequireAny(shared.PermServiceFormComplete)(okHandler()))
	require.Equal(t, http.StatusForbidden, serve(complete, viewer).Code)
	require.Equal(t, http.StatusNoContent, serve(complete, tech).Code)

	both := mw.Authenticate(mw.RequireAll(shared.PermServiceFormEdit, shared.PermStockTransfer)(okHandler()))
	require.Equal(t, http.StatusForbidden, serve(both, tech).Code)

	open := mw.Authenticate(mw.RequireAny()(okHandler()))
	require.Equal(t, http.StatusNoContent, serve(open, viewer).Code)
}

func TestRequireWithoutActorIsUnauthorized(t *testing.T) {
	mw, _ := newMiddleware(t)
	rr := serve(mw.RequireAny(shared.PermStockView)(okHandler()), "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDefaultRoles(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	admin, err := svc.EffectivePermissions(ctx, shared.Actor{ID: 1, Role: "ADMIN"})
	require.NoError(t, err)
	require.Contains(t, admin, shared.PermBOMManage)
	require.Contains(t, admin, shared.PermDeliveryNoteDeliver)

	viewer, err := svc.EffectivePermissions(ctx, shared.Actor{ID: 1, Role: RoleViewer})
	require.NoError(t, err)
	require.NotContains(t, viewer, shared.PermStockMovement)

	unknown, err := svc.EffectivePermissions(ctx, shared.Actor{ID: 1, Role: "intruder"})
	require.NoError(t, err)
	require.Empty(t, unknown)

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 4)
	require.Equal(t, RoleAdmin, roles[0].Name)
}
