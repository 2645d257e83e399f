package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/odyssey-erp/consolidation/internal/consol"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
	"github.com/odyssey-erp/consolidation/jobs"
)

func TestGenerateWorkingsJobLogsAndCounts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	companyID := uuid.New()
	workings := &memoryWorkings{rows: map[workingKey][]consol.WorkingRow{}}
	service := consol.NewService(workings, staticGenerator{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}}, &memoryAudit{}, logger, consol.Config{})

	reg := prometheus.NewRegistry()
	job := jobs.NewGenerateWorkingsJob(service, logger, jobmetrics.NewMetrics(reg))
	task, err := jobs.NewGenerateWorkingsTask(jobs.GenerateWorkingsPayload{
		TenantPayload: jobs.TenantPayload{CompanyID: companyID, UserID: uuid.New()},
		Period:        "2025-02",
		StatementType: consol.StatementBalanceSheet,
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	expected := `
# HELP consol_jobs_total Total job executions partitioned by job name and status.
# TYPE consol_jobs_total counter
consol_jobs_total{job="consol:generate_workings",status="success"} 1
# HELP consol_job_records_total Records generated, translated or cleaned up by background jobs.
# TYPE consol_job_records_total counter
consol_job_records_total{job="consol:generate_workings"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "consol_jobs_total", "consol_job_records_total"); err != nil {
		t.Fatalf("unexpected job metrics: %v", err)
	}
	if len(workings.logs) != 1 {
		t.Fatalf("expected one log row, got %d", len(workings.logs))
	}
	logged := workings.logs[0]
	if logged.Action != consol.ActionGenerate || logged.RecordsCount != 3 || logged.CompanyID != companyID {
		t.Fatalf("unexpected log row: %+v", logged)
	}
}

func TestGenerateWorkingsJobFailureIsLoggedForPollers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	workings := &memoryWorkings{rows: map[workingKey][]consol.WorkingRow{}}
	service := consol.NewService(workings, staticGenerator{err: errors.New("hierarchy table missing")}, nil, logger, consol.Config{})

	reg := prometheus.NewRegistry()
	job := jobs.NewGenerateWorkingsJob(service, logger, jobmetrics.NewMetrics(reg))
	task, err := jobs.NewGenerateWorkingsTask(jobs.GenerateWorkingsPayload{
		TenantPayload: jobs.TenantPayload{CompanyID: uuid.New()},
		Period:        "2025-02",
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected generation failure to surface")
	}
	got, err := testutil.GatherAndCount(reg, "consol_jobs_failures_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected one failure series, got %d", got)
	}
	if len(workings.logs) != 1 || workings.logs[0].Action != consol.ActionGenerateFailed {
		t.Fatalf("expected generate_failed log, got %+v", workings.logs)
	}
	if !strings.Contains(workings.logs[0].Message, "hierarchy table missing") {
		t.Fatalf("failure message not recorded: %q", workings.logs[0].Message)
	}
}
