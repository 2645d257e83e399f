package fx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	// AuditAction identifies audit log entries emitted by the engine.
	AuditAction = "fx_translate"
	// AuditEntity describes the audit entity for translation runs.
	AuditEntity = "trial_balances"

	defaultUpdateBatch = 100
)

// LedgerStore describes the trial balance persistence the engine needs.
type LedgerStore interface {
	GetEntity(ctx context.Context, id uuid.UUID) (ledger.Entity, error)
	TrialBalance(ctx context.Context, entityID uuid.UUID, period string) ([]ledger.TrialBalanceRecord, error)
	ChartOfAccounts(ctx context.Context, companyID uuid.UUID, entityID *uuid.UUID) ([]ledger.ChartOfAccountEntry, error)
	UpdateTranslations(ctx context.Context, updates []ledger.TranslationUpdate) error
}

// RuleStore exposes translation rules and the adjustment audit trail.
type RuleStore interface {
	ActiveRules(ctx context.Context, entityID uuid.UUID) ([]Rule, error)
	UpsertAdjustment(ctx context.Context, adj Adjustment) error
}

// Engine applies translation rules to entity trial balances.
type Engine struct {
	ledger      LedgerStore
	rules       RuleStore
	audit       shared.AuditRecorder
	locker      shared.Locker
	logger      *slog.Logger
	updateBatch int
	now         func() time.Time
}

// EngineConfig configures optional behaviour for the engine.
type EngineConfig struct {
	UpdateBatch int
	Locker      shared.Locker
}

// NewEngine wires required dependencies for the translation engine.
func NewEngine(ledgerStore LedgerStore, rules RuleStore, audit shared.AuditRecorder, logger *slog.Logger, cfg EngineConfig) *Engine {
	eng := &Engine{
		ledger:      ledgerStore,
		rules:       rules,
		audit:       audit,
		locker:      cfg.Locker,
		logger:      logger,
		updateBatch: defaultUpdateBatch,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if cfg.UpdateBatch > 0 {
		eng.updateBatch = cfg.UpdateBatch
	}
	return eng
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Result summarises a translation run.
type Result struct {
	Success         bool
	Message         string
	EntityID        uuid.UUID
	Period          string
	Considered      int
	Translated      int
	UpdatedCount    int
	FailedCount     int
	TotalFCTRDebit  float64
	TotalFCTRCredit float64
	NetFCTR         float64
	Translations    []Translation
}

// ApplyTranslations translates the entity's trial balance for period and writes
// the translated amounts back. Per-record write failures are logged and counted.
func (e *Engine) ApplyTranslations(ctx context.Context, entityID uuid.UUID, period string) (Result, error) {
	tenant, err := e.authorize(ctx, entityID, period)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = shared.WithLock(ctx, e.locker, shared.TranslationLockKey(tenant.CompanyID, entityID, period), func(ctx context.Context) error {
		var planErr error
		res, planErr = e.plan(ctx, tenant, entityID, period)
		if planErr != nil || !res.Success {
			return planErr
		}
		e.persist(ctx, &res)
		e.recordAudit(ctx, tenant, res)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log().Info("applied translations",
		slog.String("entity_id", entityID.String()),
		slog.String("period", period),
		slog.Int("translated", res.Translated),
		slog.Int("updated", res.UpdatedCount),
		slog.Int("failed", res.FailedCount),
		slog.Float64("net_fctr", shared.Round2(res.NetFCTR)))
	return res, nil
}

// Preview computes the translation without persisting anything.
func (e *Engine) Preview(ctx context.Context, entityID uuid.UUID, period string) (Result, error) {
	tenant, err := e.authorize(ctx, entityID, period)
	if err != nil {
		return Result{}, err
	}
	return e.plan(ctx, tenant, entityID, period)
}

// Coverage reports the records the active rules cannot translate.
func (e *Engine) Coverage(ctx context.Context, entityID uuid.UUID, period string) (Coverage, error) {
	tenant, err := e.authorize(ctx, entityID, period)
	if err != nil {
		return Coverage{}, err
	}
	rules, records, classes, err := e.load(ctx, tenant, entityID, period)
	if err != nil {
		return Coverage{}, err
	}
	return ValidateCoverage(records, rules, classes), nil
}

func (e *Engine) authorize(ctx context.Context, entityID uuid.UUID, period string) (shared.Tenant, error) {
	if e == nil || e.ledger == nil || e.rules == nil {
		return shared.Tenant{}, fmt.Errorf("fx engine not initialised")
	}
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return shared.Tenant{}, err
	}
	if entityID == uuid.Nil {
		return shared.Tenant{}, fmt.Errorf("%w: entity id is required", shared.ErrValidation)
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return shared.Tenant{}, err
	}
	entity, err := e.ledger.GetEntity(ctx, entityID)
	if err != nil {
		return shared.Tenant{}, err
	}
	if entity.CompanyID != tenant.CompanyID {
		return shared.Tenant{}, fmt.Errorf("%w: entity %s", shared.ErrAuthorization, entityID)
	}
	return tenant, nil
}

func (e *Engine) load(ctx context.Context, tenant shared.Tenant, entityID uuid.UUID, period string) ([]Rule, []ledger.TrialBalanceRecord, map[string]string, error) {
	rules, err := e.rules.ActiveRules(ctx, entityID)
	if err != nil {
		return nil, nil, nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	records, err := e.ledger.TrialBalance(ctx, entityID, period)
	if err != nil {
		return nil, nil, nil, err
	}
	coa, err := e.ledger.ChartOfAccounts(ctx, tenant.CompanyID, &entityID)
	if err != nil {
		return nil, nil, nil, err
	}
	return rules, records, ledger.ClassLookup(coa), nil
}

func (e *Engine) plan(ctx context.Context, tenant shared.Tenant, entityID uuid.UUID, period string) (Result, error) {
	res := Result{EntityID: entityID, Period: period}
	rules, records, classes, err := e.load(ctx, tenant, entityID, period)
	if err != nil {
		return Result{}, err
	}
	if len(rules) == 0 {
		res.Message = "no active translation rules for entity"
		return res, nil
	}
	if len(records) == 0 {
		res.Message = "no trial balance rows for entity and period"
		return res, nil
	}
	res.Considered = len(records)
	res.Translations = Plan(records, rules, classes)
	res.Translated = len(res.Translations)
	for _, t := range res.Translations {
		res.TotalFCTRDebit += t.FCTRDebit
		res.TotalFCTRCredit += t.FCTRCredit
	}
	res.NetFCTR = res.TotalFCTRDebit - res.TotalFCTRCredit
	res.Success = true
	return res, nil
}

// persist writes translations in batches. A failing batch is retried record by
// record so one bad row does not sink its neighbours.
func (e *Engine) persist(ctx context.Context, res *Result) {
	written := make([]Translation, 0, len(res.Translations))
	for start := 0; start < len(res.Translations); start += e.updateBatch {
		end := min(start+e.updateBatch, len(res.Translations))
		chunk := res.Translations[start:end]
		updates := make([]ledger.TranslationUpdate, len(chunk))
		for i, t := range chunk {
			updates[i] = t.Update()
		}
		err := e.ledger.UpdateTranslations(ctx, updates)
		if err == nil {
			written = append(written, chunk...)
			continue
		}
		e.log().Warn("translation batch failed, retrying per record", slog.Int("size", len(chunk)), slog.Any("error", err))
		for i, t := range chunk {
			if err := e.ledger.UpdateTranslations(ctx, updates[i:i+1]); err != nil {
				res.FailedCount++
				e.log().Error("update translated balance",
					slog.String("record", t.Record.Key().String()),
					slog.Any("error", err))
				continue
			}
			written = append(written, t)
		}
	}
	res.UpdatedCount = len(written)
	for _, t := range written {
		if err := e.rules.UpsertAdjustment(ctx, t.Adjustment()); err != nil {
			e.log().Error("upsert translation adjustment",
				slog.String("record", t.Record.Key().String()),
				slog.Any("error", err))
		}
	}
}

func (e *Engine) recordAudit(ctx context.Context, tenant shared.Tenant, res Result) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		CompanyID: tenant.CompanyID,
		ActorID:   tenant.UserID,
		Action:    AuditAction,
		Entity:    AuditEntity,
		EntityID:  res.EntityID.String(),
		Meta: map[string]any{
			"period":            res.Period,
			"translated":        res.Translated,
			"updated":           res.UpdatedCount,
			"failed":            res.FailedCount,
			"total_fctr_debit":  shared.Round2(res.TotalFCTRDebit),
			"total_fctr_credit": shared.Round2(res.TotalFCTRCredit),
		},
		At: e.now(),
	})
	if err != nil {
		e.log().Warn("record translation audit", slog.Any("error", err))
	}
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "fx_engine"))
	}
	return slog.Default().With(slog.String("component", "fx_engine"))
}
