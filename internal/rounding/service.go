package rounding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	defaultUpdateBatch = 100
	auditAction        = "rounding_apply"
	auditEntity        = "trial_balances"
)

// LedgerStore is the trial balance persistence used by the reconciler.
type LedgerStore interface {
	GetEntity(ctx context.Context, id uuid.UUID) (ledger.Entity, error)
	TrialBalance(ctx context.Context, entityID uuid.UUID, period string) ([]ledger.TrialBalanceRecord, error)
	CreateAccount(ctx context.Context, companyID uuid.UUID, entry ledger.ChartOfAccountEntry) error
	UpdateRounding(ctx context.Context, updates []ledger.RoundingUpdate) error
	SetRoundingDifference(ctx context.Context, key ledger.RecordKey, accountName string, roundedDebit, roundedCredit float64) (bool, error)
}

// AdjustmentStore keeps the rounding audit trail.
type AdjustmentStore interface {
	SaveAdjustments(ctx context.Context, adjustments []Adjustment) error
	ListAdjustments(ctx context.Context, entityID uuid.UUID, period string) ([]Adjustment, error)
}

// Result summarises a rounding run.
type Result struct {
	EntityID          uuid.UUID
	Period            string
	Method            Method
	Precision         int
	Considered        int
	UpdatedCount      int
	FailedCount       int
	TotalDifference   float64
	PostedDifference  float64
	DifferencePosted  bool
	DifferenceAccount string
	AccountCreated    bool
	Adjustments       []Adjustment
}

// Config tunes the reconciler.
type Config struct {
	UpdateBatch int
	Tolerance   float64
	Locker      shared.Locker
}

// Service rounds trial balances and posts the rounding difference.
type Service struct {
	ledger      LedgerStore
	adjustments AdjustmentStore
	audit       shared.AuditRecorder
	locker      shared.Locker
	logger      *slog.Logger
	validate    *validator.Validate
	updateBatch int
	tolerance   float64
	now         func() time.Time
}

// NewService constructs a rounding service.
func NewService(store LedgerStore, adjustments AdjustmentStore, audit shared.AuditRecorder, logger *slog.Logger, cfg Config) *Service {
	svc := &Service{
		ledger:      store,
		adjustments: adjustments,
		audit:       audit,
		locker:      cfg.Locker,
		logger:      logger,
		validate:    validator.New(),
		updateBatch: defaultUpdateBatch,
		tolerance:   shared.BalanceTolerance,
		now:         time.Now,
	}
	if cfg.UpdateBatch > 0 {
		svc.updateBatch = cfg.UpdateBatch
	}
	if cfg.Tolerance > 0 {
		svc.tolerance = cfg.Tolerance
	}
	return svc
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RoundTrialBalance rounds the entity's records for the period and posts the
// accumulated difference to req.DifferenceAccount when it exceeds the tolerance.
func (s *Service) RoundTrialBalance(ctx context.Context, req Request) (Result, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return Result{}, err
	}
	req.DifferenceAccount = ledger.NormalizeCode(req.DifferenceAccount)
	if err := s.validateRequest(&req); err != nil {
		return Result{}, err
	}
	entity, err := s.ledger.GetEntity(ctx, req.EntityID)
	if err != nil {
		return Result{}, err
	}
	if entity.CompanyID != tenant.CompanyID {
		return Result{}, fmt.Errorf("%w: entity %s", shared.ErrAuthorization, req.EntityID)
	}

	var res Result
	err = shared.WithLock(ctx, s.locker, shared.RoundingLockKey(tenant.CompanyID, req.EntityID, req.Period), func(ctx context.Context) error {
		var runErr error
		res, runErr = s.run(ctx, tenant, req)
		return runErr
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, tenant, res)
	s.log().Info("rounded trial balance",
		slog.String("entity_id", req.EntityID.String()),
		slog.String("period", req.Period),
		slog.String("method", string(req.Method)),
		slog.Int("precision", req.Precision),
		slog.Int("updated", res.UpdatedCount),
		slog.Float64("difference", res.TotalDifference),
		slog.Bool("posted", res.DifferencePosted))
	return res, nil
}

// Adjustments returns the recorded original and rounded amounts for the
// entity and period.
func (s *Service) Adjustments(ctx context.Context, entityID uuid.UUID, period string) ([]Adjustment, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return nil, err
	}
	entity, err := s.ledger.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if entity.CompanyID != tenant.CompanyID {
		return nil, fmt.Errorf("%w: entity %s", shared.ErrAuthorization, entityID)
	}
	if s.adjustments == nil {
		return nil, nil
	}
	return s.adjustments.ListAdjustments(ctx, entityID, period)
}

func (s *Service) run(ctx context.Context, tenant shared.Tenant, req Request) (Result, error) {
	res := Result{
		EntityID:          req.EntityID,
		Period:            req.Period,
		Method:            req.Method,
		Precision:         req.Precision,
		DifferenceAccount: req.DifferenceAccount,
	}
	accountName := req.DifferenceAccount
	if req.NewAccount != nil {
		entry := ledger.ChartOfAccountEntry{
			AccountCode:  req.DifferenceAccount,
			AccountName:  req.NewAccount.AccountName,
			ClassName:    req.NewAccount.ClassName,
			SubclassName: req.NewAccount.SubclassName,
			NoteName:     req.NewAccount.NoteName,
			SubnoteName:  req.NewAccount.SubnoteName,
		}
		if req.NewAccount.EntitySpecific {
			entityID := req.EntityID
			entry.EntityID = &entityID
		}
		if err := s.ledger.CreateAccount(ctx, tenant.CompanyID, entry); err != nil {
			return Result{}, err
		}
		res.AccountCreated = true
		accountName = entry.AccountName
	}

	records, err := s.ledger.TrialBalance(ctx, req.EntityID, req.Period)
	if err != nil {
		return Result{}, err
	}
	res.Considered = len(records)
	adjustments, total := Plan(records, req.Method, req.Precision)
	res.TotalDifference = total
	res.Adjustments = s.persist(ctx, adjustments, &res)

	if math.Abs(total) > s.tolerance {
		posted := Round(total, req.Method, req.Precision)
		diff := differenceAdjustment(records, req, posted)
		if _, err := s.ledger.SetRoundingDifference(ctx, diff.Key(), accountName, diff.RoundedDebit, diff.RoundedCredit); err != nil {
			return res, fmt.Errorf("%w: post rounding difference: %v", shared.ErrPersistence, err)
		}
		if s.adjustments != nil {
			if err := s.adjustments.SaveAdjustments(ctx, []Adjustment{diff}); err != nil {
				s.log().Error("save rounding difference", slog.String("record", diff.Key().String()), slog.Any("error", err))
			}
		}
		res.Adjustments = replaceAdjustment(res.Adjustments, diff)
		res.PostedDifference = posted
		res.DifferencePosted = true
	}
	return res, nil
}

// differenceAdjustment sets the reported amounts of the difference account to
// its own rounded amounts plus the posted difference. Raw amounts are kept, so
// the result depends only on the trial balance and a rerun rewrites the same
// values.
func differenceAdjustment(records []ledger.TrialBalanceRecord, req Request, posted float64) Adjustment {
	debit, credit := Split(posted)
	diff := Adjustment{
		EntityID:      req.EntityID,
		AccountCode:   req.DifferenceAccount,
		Period:        req.Period,
		RoundedDebit:  debit,
		RoundedCredit: credit,
		Method:        req.Method,
		Precision:     req.Precision,
	}
	for _, rec := range records {
		if rec.AccountCode != req.DifferenceAccount {
			continue
		}
		diff.RecordID = rec.ID
		diff.OriginalDebit = rec.Debit
		diff.OriginalCredit = rec.Credit
		diff.RoundedDebit += Round(rec.Debit, req.Method, req.Precision)
		diff.RoundedCredit += Round(rec.Credit, req.Method, req.Precision)
		break
	}
	diff.Delta = (diff.OriginalDebit - diff.RoundedDebit) - (diff.OriginalCredit - diff.RoundedCredit)
	return diff
}

func replaceAdjustment(adjustments []Adjustment, a Adjustment) []Adjustment {
	for i := range adjustments {
		if adjustments[i].Key() == a.Key() {
			adjustments[i] = a
			return adjustments
		}
	}
	return append(adjustments, a)
}

// persist writes rounded values in batches, retrying a failed batch per record,
// and returns the adjustments that were stored.
func (s *Service) persist(ctx context.Context, adjustments []Adjustment, res *Result) []Adjustment {
	written := make([]Adjustment, 0, len(adjustments))
	for start := 0; start < len(adjustments); start += s.updateBatch {
		chunk := adjustments[start:min(start+s.updateBatch, len(adjustments))]
		updates := make([]ledger.RoundingUpdate, len(chunk))
		for i, a := range chunk {
			updates[i] = a.Update()
		}
		err := s.ledger.UpdateRounding(ctx, updates)
		if err == nil {
			written = append(written, chunk...)
			continue
		}
		s.log().Warn("rounding batch failed, retrying per record", slog.Int("size", len(chunk)), slog.Any("error", err))
		for i, a := range chunk {
			if err := s.ledger.UpdateRounding(ctx, updates[i:i+1]); err != nil {
				res.FailedCount++
				s.log().Error("update rounded balance", slog.String("record", a.Key().String()), slog.Any("error", err))
				continue
			}
			written = append(written, a)
		}
	}
	res.UpdatedCount = len(written)
	if s.adjustments != nil && len(written) > 0 {
		if err := s.adjustments.SaveAdjustments(ctx, written); err != nil {
			s.log().Error("save rounding adjustments", slog.Any("error", err))
		}
	}
	return written
}

func (s *Service) validateRequest(req *Request) error {
	method, err := ParseMethod(string(req.Method))
	if err != nil {
		return err
	}
	req.Method = method
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", shared.ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if req.NewAccount != nil {
		if ledger.NormalizeCode(req.NewAccount.AccountCode) != req.DifferenceAccount {
			return fmt.Errorf("%w: new account code must match the difference account", shared.ErrValidation)
		}
	}
	return shared.ValidatePeriod(req.Period)
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.Tenant, res Result) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: tenant.CompanyID,
		ActorID:   tenant.UserID,
		Action:    auditAction,
		Entity:    auditEntity,
		EntityID:  res.EntityID.String(),
		Meta: map[string]any{
			"period":             res.Period,
			"method":             string(res.Method),
			"precision":          res.Precision,
			"updated":            res.UpdatedCount,
			"failed":             res.FailedCount,
			"total_difference":   res.TotalDifference,
			"posted_difference":  res.PostedDifference,
			"difference_account": res.DifferenceAccount,
		},
		At: s.now().UTC(),
	})
	if err != nil {
		s.log().Warn("record rounding audit", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "rounding"))
	}
	return slog.Default().With(slog.String("component", "rounding"))
}
