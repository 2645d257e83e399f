package eliminationhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/elimination"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

type stubService struct {
	created elimination.CreateEntryInput
	err     error
	entry   elimination.Entry
	deleted uuid.UUID
}

func (s *stubService) CreateEntry(ctx context.Context, input elimination.CreateEntryInput) (elimination.Entry, error) {
	s.created = input
	return s.entry, s.err
}

func (s *stubService) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	s.deleted = id
	return s.err
}

func (s *stubService) GetEntry(ctx context.Context, id uuid.UUID) (elimination.Entry, error) {
	return s.entry, s.err
}

func (s *stubService) ListEntries(ctx context.Context, period string) ([]elimination.Entry, error) {
	return []elimination.Entry{s.entry}, s.err
}

func (s *stubService) PeriodTotals(ctx context.Context, period string) (map[string]float64, error) {
	return map[string]float64{"2100": 10}, s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func TestCreateEntryDecodesLines(t *testing.T) {
	svc := &stubService{entry: elimination.Entry{ID: uuid.New(), Posted: true, Period: "2025-01"}}
	entityID := uuid.New()
	body := `{"name":"IC loan","date":"2025-01-31","lines":[` +
		`{"entity_id":"` + entityID.String() + `","gl_code":" 2100 ","debit":100},` +
		`{"entity_id":"` + entityID.String() + `","gl_code":"1200","credit":100}]}`
	req := httptest.NewRequest(http.MethodPost, "/eliminations/", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()

	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.created.Lines, 2)
	require.Equal(t, "2100", svc.created.Lines[0].GLCode)
	require.Equal(t, "abc", svc.created.IdempotencyKey)
	require.Equal(t, 31, svc.created.Date.Day())

	var resp entryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "POSTED", resp.Status)
}

func TestCreateEntryMapsBalanceErrorTo422(t *testing.T) {
	svc := &stubService{err: &elimination.BalanceError{Debit: 100, Credit: 90, Difference: 10}}
	body := `{"name":"x","date":"2025-01-31","lines":[]}`
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/eliminations/", strings.NewReader(body)))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "differ by 10.00")
}

func TestCreateEntryRejectsBadDate(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"name":"x","date":"31/01/2025","lines":[]}`
	newRouter(&stubService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/eliminations/", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEntryStatusCodes(t *testing.T) {
	id := uuid.New()
	svc := &stubService{}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/eliminations/"+id.String(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, id, svc.deleted)

	svc.err = shared.ErrAuthorization
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/eliminations/"+id.String(), nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/eliminations/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
