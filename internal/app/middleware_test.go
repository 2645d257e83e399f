package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

func tenantProbe(t *testing.T, headers map[string]string) (*httptest.ResponseRecorder, shared.Tenant, bool) {
	t.Helper()
	var (
		seen  shared.Tenant
		found bool
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, found = shared.TenantFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/consol/logs", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	TenantMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(next).ServeHTTP(rec, req)
	return rec, seen, found
}

func TestTenantMiddlewarePopulatesContext(t *testing.T) {
	companyID, userID := uuid.New(), uuid.New()

	rec, tenant, ok := tenantProbe(t, map[string]string{
		HeaderCompanyID: companyID.String(),
		HeaderUserID:    userID.String(),
		HeaderUserEmail: " cfo@example.com ",
	})

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok)
	require.Equal(t, companyID, tenant.CompanyID)
	require.Equal(t, userID, tenant.UserID)
	require.Equal(t, "cfo@example.com", tenant.Email)
}

func TestTenantMiddlewareWithoutCompanyPassesThrough(t *testing.T) {
	rec, _, ok := tenantProbe(t, nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, ok)
}

func TestTenantMiddlewareRejectsMalformedIDs(t *testing.T) {
	rec, _, ok := tenantProbe(t, map[string]string{HeaderCompanyID: "acme"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, ok)

	rec, _, ok = tenantProbe(t, map[string]string{HeaderCompanyID: uuid.NewString(), HeaderUserID: "42"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, ok)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: &Config{AppEnv: "test"},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
