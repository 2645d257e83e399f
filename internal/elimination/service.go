package elimination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

const (
	idempotencyModule = "ELIMINATIONS"
	auditEntity       = "elimination_entries"
)

// Store persists elimination entries.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetEntry(ctx context.Context, id uuid.UUID) (Entry, error)
	ListEntries(ctx context.Context, companyID uuid.UUID, period string) ([]Entry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
}

// TxStore defines the writes performed atomically when an entry is created.
type TxStore interface {
	InsertHeader(ctx context.Context, entry Entry) error
	InsertLines(ctx context.Context, entryID uuid.UUID, lines []Line) error
}

// EntityLister resolves the entities of a tenant.
type EntityLister interface {
	ListEntities(ctx context.Context, companyID uuid.UUID) ([]ledger.Entity, error)
}

// IdempotencyGuard rejects replayed create requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service validates and persists balanced elimination entries.
type Service struct {
	store    Store
	entities EntityLister
	audit    shared.AuditRecorder
	idem     IdempotencyGuard
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs an elimination service instance.
func NewService(store Store, entities EntityLister, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		entities: entities,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithIdempotency enables replay protection for CreateEntry.
func (s *Service) WithIdempotency(guard IdempotencyGuard) {
	s.idem = guard
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateEntry validates the lines and persists header and lines in one transaction.
func (s *Service) CreateEntry(ctx context.Context, input CreateEntryInput) (Entry, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return Entry{}, err
	}
	if err := s.validateInput(input); err != nil {
		return Entry{}, err
	}
	if err := s.authorizeEntities(ctx, tenant, input.Lines); err != nil {
		return Entry{}, err
	}
	if err := CheckBalance(input.Lines); err != nil {
		return Entry{}, err
	}
	if s.idem != nil && input.IdempotencyKey != "" {
		key := tenant.CompanyID.String() + ":" + input.IdempotencyKey
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Entry{}, ErrDuplicateRequest
			}
			return Entry{}, err
		}
		defer func() {
			if err != nil {
				_ = s.idem.Delete(context.WithoutCancel(ctx), key)
			}
		}()
	}

	debit, credit := ComputeTotals(input.Lines)
	entry := Entry{
		ID:          uuid.New(),
		CompanyID:   tenant.CompanyID,
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Date:        input.Date,
		Period:      shared.PeriodOf(input.Date),
		TotalDebit:  debit,
		TotalCredit: credit,
		Posted:      true,
		CreatedBy:   tenant.UserID,
		CreatedAt:   s.now().UTC(),
		Lines:       buildLines(input.Lines),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.InsertHeader(ctx, entry); err != nil {
			return err
		}
		return tx.InsertLines(ctx, entry.ID, entry.Lines)
	})
	if err != nil {
		err = fmt.Errorf("%w: create elimination entry: %v", shared.ErrPersistence, err)
		return Entry{}, err
	}
	s.recordAudit(ctx, tenant, "elimination_create", entry)
	s.log().Info("created elimination entry",
		slog.String("entry_id", entry.ID.String()),
		slog.String("period", entry.Period),
		slog.Int("lines", len(entry.Lines)),
		slog.Float64("total", shared.Round2(entry.TotalDebit)))
	return entry, nil
}

// DeleteEntry removes an entry owned by the caller's tenant. Lines cascade.
func (s *Service) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return err
	}
	entry, err := s.owned(ctx, tenant, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("%w: delete elimination entry: %v", shared.ErrPersistence, err)
	}
	s.recordAudit(ctx, tenant, "elimination_delete", entry)
	return nil
}

// GetEntry returns an entry owned by the caller's tenant.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return Entry{}, err
	}
	return s.owned(ctx, tenant, id)
}

// ListEntries returns the tenant's entries, optionally restricted to a period.
func (s *Service) ListEntries(ctx context.Context, period string) ([]Entry, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if period != "" {
		if err := shared.ValidatePeriod(period); err != nil {
			return nil, err
		}
	}
	return s.store.ListEntries(ctx, tenant.CompanyID, period)
}

// PeriodTotals returns net elimination amounts (debit minus credit) per GL code.
func (s *Service) PeriodTotals(ctx context.Context, period string) (map[string]float64, error) {
	if err := shared.ValidatePeriod(period); err != nil {
		return nil, err
	}
	entries, err := s.ListEntries(ctx, period)
	if err != nil {
		return nil, err
	}
	return NetByAccount(entries), nil
}

func (s *Service) owned(ctx context.Context, tenant shared.Tenant, id uuid.UUID) (Entry, error) {
	if id == uuid.Nil {
		return Entry{}, fmt.Errorf("%w: entry id is required", shared.ErrValidation)
	}
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if entry.CompanyID != tenant.CompanyID {
		return Entry{}, fmt.Errorf("%w: elimination entry %s", shared.ErrAuthorization, id)
	}
	return entry, nil
}

func (s *Service) validateInput(input CreateEntryInput) error {
	if len(input.Lines) < 2 {
		return ErrTooFewLines
	}
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", shared.ErrValidation, fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	for i, line := range input.Lines {
		if math.IsNaN(line.Debit) || math.IsNaN(line.Credit) || math.IsInf(line.Debit, 0) || math.IsInf(line.Credit, 0) {
			return fmt.Errorf("%w: line %d amount is not finite", shared.ErrValidation, i+1)
		}
	}
	return nil
}

func (s *Service) authorizeEntities(ctx context.Context, tenant shared.Tenant, lines []LineInput) error {
	entities, err := s.entities.ListEntities(ctx, tenant.CompanyID)
	if err != nil {
		return err
	}
	owned := make(map[uuid.UUID]struct{}, len(entities))
	for _, e := range entities {
		if e.CompanyID == tenant.CompanyID {
			owned[e.ID] = struct{}{}
		}
	}
	for _, line := range lines {
		if _, ok := owned[line.EntityID]; !ok {
			return fmt.Errorf("%w: entity %s", shared.ErrAuthorization, line.EntityID)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.Tenant, action string, entry Entry) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: tenant.CompanyID,
		ActorID:   tenant.UserID,
		Action:    action,
		Entity:    auditEntity,
		EntityID:  entry.ID.String(),
		Meta: map[string]any{
			"name":         entry.Name,
			"period":       entry.Period,
			"total_debit":  shared.Round2(entry.TotalDebit),
			"total_credit": shared.Round2(entry.TotalCredit),
			"lines":        len(entry.Lines),
		},
		At: s.now().UTC(),
	})
	if err != nil {
		s.log().Warn("record elimination audit", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "elimination"))
	}
	return slog.Default().With(slog.String("component", "elimination"))
}
