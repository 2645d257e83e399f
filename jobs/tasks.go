package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGenerateWorkings generates the working-row skeleton of a period.
	TaskGenerateWorkings = "consol:generate_workings"
	// TaskApplyTranslations applies translation rules to an entity trial balance.
	TaskApplyTranslations = "fx:apply_translations"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TenantPayload carries the caller identity into background work.
type TenantPayload struct {
	CompanyID uuid.UUID `json:"company_id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
}

// TenantPayloadFrom captures the tenant of ctx for a task payload.
func TenantPayloadFrom(ctx context.Context) (TenantPayload, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return TenantPayload{}, err
	}
	return TenantPayload{CompanyID: tenant.CompanyID, UserID: tenant.UserID, Email: tenant.Email}, nil
}

// Context restores the tenant onto ctx.
func (p TenantPayload) Context(ctx context.Context) context.Context {
	return shared.ContextWithTenant(ctx, shared.Tenant{UserID: p.UserID, CompanyID: p.CompanyID, Email: p.Email})
}

// GenerateWorkingsPayload scopes a generation run.
type GenerateWorkingsPayload struct {
	TenantPayload
	Period        string `json:"period"`
	StatementType string `json:"statement_type,omitempty"`
}

// ApplyTranslationsPayload scopes a translation run.
type ApplyTranslationsPayload struct {
	TenantPayload
	EntityID uuid.UUID `json:"entity_id"`
	Period   string    `json:"period"`
}

// NewGenerateWorkingsTask constructs the generation task.
func NewGenerateWorkingsTask(payload GenerateWorkingsPayload) (*asynq.Task, error) {
	if payload.CompanyID == uuid.Nil || payload.Period == "" {
		return nil, fmt.Errorf("%w: company and period are required", shared.ErrValidation)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerateWorkings, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewApplyTranslationsTask constructs the translation task.
func NewApplyTranslationsTask(payload ApplyTranslationsPayload) (*asynq.Task, error) {
	if payload.CompanyID == uuid.Nil || payload.EntityID == uuid.Nil || payload.Period == "" {
		return nil, fmt.Errorf("%w: company, entity and period are required", shared.ErrValidation)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApplyTranslations, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task used by the scheduler.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrAuthorization) ||
		errors.Is(err, shared.ErrNotFound)
}

func retryable(err error) error {
	if err == nil {
		return nil
	}
	if permanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
