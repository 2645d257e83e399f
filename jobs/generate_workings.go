package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/internal/consol"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

// WorkingsGenerator is the aggregator behaviour the job drives. It records
// generate and generate_failed log rows for pollers.
type WorkingsGenerator interface {
	GenerateWorkings(ctx context.Context, period, statementType string) (consol.GenerateResult, error)
}

// GenerateWorkingsJob runs hierarchy generation outside the request path.
type GenerateWorkingsJob struct {
	Service WorkingsGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewGenerateWorkingsJob constructs the job handler.
func NewGenerateWorkingsJob(service WorkingsGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *GenerateWorkingsJob {
	return &GenerateWorkingsJob{Service: service, Logger: logger, Metrics: metrics, Timeout: 10 * time.Minute}
}

// Handle executes the generation task.
func (j *GenerateWorkingsJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("generate workings: dependencies not configured")
	}
	var payload GenerateWorkingsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskGenerateWorkings)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := j.Service.GenerateWorkings(payload.Context(ctx), payload.Period, payload.StatementType)
	if err != nil {
		j.log().Error("generate workings",
			slog.String("company_id", payload.CompanyID.String()),
			slog.String("period", payload.Period),
			slog.String("statement_type", payload.StatementType),
			slog.Any("error", err))
		return retryable(err)
	}
	j.metrics().AddRecords(TaskGenerateWorkings, len(res.WorkingIDs))
	j.log().Info("generated workings",
		slog.String("company_id", payload.CompanyID.String()),
		slog.String("period", payload.Period),
		slog.Int("rows", len(res.WorkingIDs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *GenerateWorkingsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GenerateWorkingsJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGenerateWorkings))
	}
	return slog.Default().With(slog.String("job", TaskGenerateWorkings))
}
