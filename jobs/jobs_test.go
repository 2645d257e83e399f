package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

type stubGenerator struct {
	tenant shared.Tenant
	period string
	err    error
}

func (s *stubGenerator) GenerateWorkings(ctx context.Context, period, statementType string) (consol.GenerateResult, error) {
	s.tenant, _ = shared.TenantFromContext(ctx)
	s.period = period
	if s.err != nil {
		return consol.GenerateResult{}, s.err
	}
	return consol.GenerateResult{Period: period, WorkingIDs: []uuid.UUID{uuid.New()}}, nil
}

type stubTranslator struct {
	entity uuid.UUID
	res    fx.Result
	err    error
}

func (s *stubTranslator) ApplyTranslations(ctx context.Context, entityID uuid.UUID, period string) (fx.Result, error) {
	if _, err := shared.RequireTenant(ctx); err != nil {
		return fx.Result{}, err
	}
	s.entity = entityID
	return s.res, s.err
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestGenerateWorkingsJobRestoresTenant(t *testing.T) {
	tenant := TenantPayload{CompanyID: uuid.New(), UserID: uuid.New(), Email: "ops@example.com"}
	task, err := NewGenerateWorkingsTask(GenerateWorkingsPayload{TenantPayload: tenant, Period: "2024-12"})
	require.NoError(t, err)
	require.Equal(t, TaskGenerateWorkings, task.Type())

	gen := &stubGenerator{}
	job := NewGenerateWorkingsJob(gen, nil, testMetrics())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, tenant.CompanyID, gen.tenant.CompanyID)
	require.Equal(t, "ops@example.com", gen.tenant.Email)
	require.Equal(t, "2024-12", gen.period)
}

func TestGenerateWorkingsJobSkipsRetryOnValidation(t *testing.T) {
	task, err := NewGenerateWorkingsTask(GenerateWorkingsPayload{TenantPayload: TenantPayload{CompanyID: uuid.New()}, Period: "2024-12"})
	require.NoError(t, err)

	job := NewGenerateWorkingsJob(&stubGenerator{err: shared.ErrValidation}, nil, testMetrics())
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, shared.ErrValidation)

	job = NewGenerateWorkingsJob(&stubGenerator{err: errors.New("db down")}, nil, testMetrics())
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestGenerateWorkingsJobRejectsBadPayload(t *testing.T) {
	job := NewGenerateWorkingsJob(&stubGenerator{}, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskGenerateWorkings, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewTasksRequireScope(t *testing.T) {
	_, err := NewGenerateWorkingsTask(GenerateWorkingsPayload{Period: "2024-12"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NewApplyTranslationsTask(ApplyTranslationsPayload{TenantPayload: TenantPayload{CompanyID: uuid.New()}, Period: "2024-12"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyTranslationsJob(t *testing.T) {
	entity := uuid.New()
	payload := ApplyTranslationsPayload{TenantPayload: TenantPayload{CompanyID: uuid.New(), UserID: uuid.New()}, EntityID: entity, Period: "2024-12"}
	task, err := NewApplyTranslationsTask(payload)
	require.NoError(t, err)

	var decoded ApplyTranslationsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, payload, decoded)

	tr := &stubTranslator{res: fx.Result{Success: true, UpdatedCount: 3}}
	require.NoError(t, NewApplyTranslationsJob(tr, nil, testMetrics()).Handle(context.Background(), task))
	require.Equal(t, entity, tr.entity)

	tr = &stubTranslator{err: shared.ErrAuthorization}
	err = NewApplyTranslationsJob(tr, nil, testMetrics()).Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubCleaner struct {
	retention time.Duration
}

func (s *stubCleaner) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	return 4, nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &stubCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner, Metrics: testMetrics()}
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 72*time.Hour, cleaner.retention)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestJobsHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2}}, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":2,"active":0,"retry":0,"archived":0,"processed":0,"failed":0}`, rec.Body.String())

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
