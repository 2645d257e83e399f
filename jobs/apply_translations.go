package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

// Translator applies translation rules.
type Translator interface {
	ApplyTranslations(ctx context.Context, entityID uuid.UUID, period string) (fx.Result, error)
}

// ApplyTranslationsJob runs a translation outside the request path.
type ApplyTranslationsJob struct {
	Engine  Translator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewApplyTranslationsJob constructs the job handler.
func NewApplyTranslationsJob(engine Translator, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApplyTranslationsJob {
	return &ApplyTranslationsJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle executes the translation task.
func (j *ApplyTranslationsJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("apply translations: dependencies not configured")
	}
	var payload ApplyTranslationsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskApplyTranslations)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	res, err := j.Engine.ApplyTranslations(payload.Context(ctx), payload.EntityID, payload.Period)
	if err != nil {
		j.log().Error("apply translations",
			slog.String("entity_id", payload.EntityID.String()),
			slog.String("period", payload.Period),
			slog.Any("error", err))
		return retryable(err)
	}
	if !res.Success {
		j.log().Info("translation skipped", slog.String("entity_id", payload.EntityID.String()), slog.String("reason", res.Message))
		return nil
	}
	j.metrics().AddRecords(TaskApplyTranslations, res.UpdatedCount)
	if res.FailedCount > 0 {
		j.log().Warn("translation partially applied",
			slog.String("entity_id", payload.EntityID.String()),
			slog.Int("updated", res.UpdatedCount),
			slog.Int("failed", res.FailedCount))
	}
	return nil
}

func (j *ApplyTranslationsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ApplyTranslationsJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskApplyTranslations))
	}
	return slog.Default().With(slog.String("job", TaskApplyTranslations))
}
