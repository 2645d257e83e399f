package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	defaultInsertBatch = 500
	auditEntity        = "consolidation_workings"
)

// Store persists working rows and the consolidation log.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	ListWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]WorkingRow, error)
	AppendLog(ctx context.Context, log Log) error
	FetchLogs(ctx context.Context, companyID uuid.UUID, filter LogFilter, limit int) ([]Log, error)
}

// TxStore is the transactional part of a working-row replace.
type TxStore interface {
	DeleteWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) (int64, error)
	InsertWorkings(ctx context.Context, companyID uuid.UUID, rows []WorkingRow) error
}

// HierarchyGenerator initialises the statement skeleton for a period. An empty
// statement type generates every statement.
type HierarchyGenerator interface {
	Generate(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]uuid.UUID, error)
}

// Config tunes the aggregator.
type Config struct {
	InsertBatch int
	Locker      shared.Locker
}

// Service replaces and reads consolidated working rows.
type Service struct {
	store       Store
	generator   HierarchyGenerator
	audit       shared.AuditRecorder
	locker      shared.Locker
	logger      *slog.Logger
	insertBatch int
	group       singleflight.Group
	now         func() time.Time
}

// NewService constructs the consolidation aggregator.
func NewService(store Store, generator HierarchyGenerator, audit shared.AuditRecorder, logger *slog.Logger, cfg Config) *Service {
	svc := &Service{
		store:       store,
		generator:   generator,
		audit:       audit,
		locker:      cfg.Locker,
		logger:      logger,
		insertBatch: defaultInsertBatch,
		now:         time.Now,
	}
	if cfg.InsertBatch > 0 {
		svc.insertBatch = cfg.InsertBatch
	}
	return svc
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// GenerateWorkings asks the hierarchy generator for the period's skeleton.
// Concurrent calls for the same tenant and key share one generation.
func (s *Service) GenerateWorkings(ctx context.Context, period, statementType string) (GenerateResult, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return GenerateResult{}, err
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return GenerateResult{}, err
	}
	if statementType != "" {
		if err := ValidateStatementType(statementType); err != nil {
			return GenerateResult{}, err
		}
	}
	if s.generator == nil {
		return GenerateResult{}, errors.New("consol: hierarchy generator not configured")
	}

	key := fmt.Sprintf("%s|%s|%s", tenant.CompanyID, period, statementType)
	// Logged once per execution, whichever caller started it.
	ch := s.group.DoChan(key, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		ids, err := s.generator.Generate(runCtx, tenant.CompanyID, period, statementType)
		if err != nil {
			s.appendLog(runCtx, tenant, Log{Period: period, StatementType: statementType, Action: ActionGenerateFailed, Message: err.Error()})
			return nil, err
		}
		s.appendLog(runCtx, tenant, Log{Period: period, StatementType: statementType, Action: ActionGenerate, RecordsCount: len(ids)})
		return ids, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return GenerateResult{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return GenerateResult{}, fmt.Errorf("%w: generate workings: %v", shared.ErrPersistence, res.Err)
	}
	ids, _ := res.Val.([]uuid.UUID)
	return GenerateResult{Period: period, StatementType: statementType, WorkingIDs: ids, Shared: res.Shared}, nil
}

// SaveWorkings replaces every working row for (tenant, period, statementType)
// with rows. Consolidated amounts are stored as supplied.
func (s *Service) SaveWorkings(ctx context.Context, period, statementType string, rows []WorkingRow) (SaveResult, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return SaveResult{}, err
	}
	if err := ValidateStatementType(statementType); err != nil {
		return SaveResult{}, err
	}
	normalized, err := normalizeRows(rows, period, statementType)
	if err != nil {
		return SaveResult{}, err
	}
	calculatedAt := s.now().UTC()
	for i := range normalized {
		normalized[i].CreatedBy = tenant.UserID
		if normalized[i].CalculatedAt.IsZero() {
			normalized[i].CalculatedAt = calculatedAt
		}
	}

	res := SaveResult{Period: period, StatementType: statementType, RecordsSaved: len(normalized)}
	lockKey := shared.WorkingsLockKey(tenant.CompanyID, period, statementType)
	err = shared.WithLock(ctx, s.locker, lockKey, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			deleted, err := tx.DeleteWorkings(ctx, tenant.CompanyID, period, statementType)
			if err != nil {
				return fmt.Errorf("delete workings: %w", err)
			}
			res.Replaced = deleted
			for start := 0; start < len(normalized); start += s.insertBatch {
				chunk := normalized[start:min(start+s.insertBatch, len(normalized))]
				if err := tx.InsertWorkings(ctx, tenant.CompanyID, chunk); err != nil {
					return fmt.Errorf("insert workings batch %d: %w", res.Batches+1, err)
				}
				res.Batches++
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrLocked) {
			return SaveResult{}, err
		}
		return SaveResult{}, fmt.Errorf("%w: save workings: %v", shared.ErrPersistence, err)
	}

	s.appendLog(ctx, tenant, Log{Period: period, StatementType: statementType, Action: ActionSave, RecordsCount: len(normalized)})
	s.recordAudit(ctx, tenant, res)
	s.log().Info("saved consolidation workings",
		slog.String("period", period),
		slog.String("statement_type", statementType),
		slog.Int("rows", res.RecordsSaved),
		slog.Int64("replaced", res.Replaced),
		slog.Int("batches", res.Batches))
	return res, nil
}

// ListWorkings returns the saved rows for the period and statement type.
func (s *Service) ListWorkings(ctx context.Context, period, statementType string) ([]WorkingRow, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return nil, err
	}
	if err := ValidateStatementType(statementType); err != nil {
		return nil, err
	}
	return s.store.ListWorkings(ctx, tenant.CompanyID, period, statementType)
}

// FetchLogs returns the latest consolidation log rows, newest first.
func (s *Service) FetchLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Period != "" {
		if err := shared.ValidatePeriod(filter.Period); err != nil {
			return nil, err
		}
	}
	if filter.StatementType != "" {
		if err := ValidateStatementType(filter.StatementType); err != nil {
			return nil, err
		}
	}
	logs, err := s.store.FetchLogs(ctx, tenant.CompanyID, filter, MaxLogRows)
	if err != nil {
		return nil, err
	}
	if len(logs) > MaxLogRows {
		logs = logs[:MaxLogRows]
	}
	return logs, nil
}

// RecordLog appends a log row on behalf of background callers.
func (s *Service) RecordLog(ctx context.Context, entry Log) error {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return err
	}
	entry.CompanyID = tenant.CompanyID
	entry.SavedBy = tenant.UserID
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SavedAt.IsZero() {
		entry.SavedAt = s.now().UTC()
	}
	return s.store.AppendLog(ctx, entry)
}

func (s *Service) appendLog(ctx context.Context, tenant shared.Tenant, entry Log) {
	if err := s.RecordLog(shared.ContextWithTenant(ctx, tenant), entry); err != nil {
		s.log().Warn("append consolidation log",
			slog.String("action", entry.Action),
			slog.String("period", entry.Period),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.Tenant, res SaveResult) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: tenant.CompanyID,
		ActorID:   tenant.UserID,
		Action:    "consolidation_save",
		Entity:    auditEntity,
		EntityID:  res.Period + "/" + res.StatementType,
		Meta: map[string]any{
			"records":  res.RecordsSaved,
			"replaced": res.Replaced,
			"batches":  res.Batches,
		},
		At: s.now().UTC(),
	})
	if err != nil {
		s.log().Warn("record consolidation audit", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol"))
	}
	return slog.Default().With(slog.String("component", "consol"))
}
