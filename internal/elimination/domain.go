package elimination

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Status captures the lifecycle of an elimination entry. Entries are posted on
// creation; corrections are delete-and-recreate.
type Status string

const (
	// StatusPosted is the only state reachable after creation.
	StatusPosted Status = "POSTED"
	// StatusDeleted is terminal.
	StatusDeleted Status = "DELETED"
)

// String implements fmt.Stringer for debugging.
func (s Status) String() string {
	return string(s)
}

// Entry is an intercompany elimination journal.
type Entry struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	Name        string
	Description string
	Date        time.Time
	Period      string
	TotalDebit  float64
	TotalCredit float64
	Posted      bool
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	Lines       []Line
}

// Status reports the entry state.
func (e Entry) Status() Status {
	if e.Posted {
		return StatusPosted
	}
	return StatusDeleted
}

// Line is one posting of an elimination entry.
type Line struct {
	EntityID   uuid.UUID
	GLCode     string
	Debit      float64
	Credit     float64
	LineNumber int
}

// LineInput is a caller-supplied elimination line.
type LineInput struct {
	EntityID uuid.UUID `json:"entity_id" validate:"required"`
	GLCode   string    `json:"gl_code" validate:"required,max=64"`
	Debit    float64   `json:"debit" validate:"gte=0"`
	Credit   float64   `json:"credit" validate:"gte=0"`
}

// CreateEntryInput validates a new elimination entry.
type CreateEntryInput struct {
	Name           string      `json:"name" validate:"required,max=255"`
	Date           time.Time   `json:"date" validate:"required"`
	Description    string      `json:"description" validate:"max=2000"`
	Lines          []LineInput `json:"lines" validate:"min=2,dive"`
	IdempotencyKey string      `json:"-"`
}

// BalanceError reports an entry whose debits and credits diverge beyond tolerance.
type BalanceError struct {
	Debit      float64
	Credit     float64
	Difference float64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("elimination: debit %.2f and credit %.2f differ by %.2f", e.Debit, e.Credit, e.Difference)
}

// Unwrap lets errors.Is match shared.ErrBalance.
func (e *BalanceError) Unwrap() error {
	return shared.ErrBalance
}

// ErrEntryNotFound occurs when entry lookup fails.
var ErrEntryNotFound = fmt.Errorf("elimination: entry %w", shared.ErrNotFound)

// ErrTooFewLines occurs when an entry has fewer than two lines.
var ErrTooFewLines = fmt.Errorf("%w: elimination requires at least two lines", shared.ErrValidation)

// ErrDuplicateRequest occurs when an idempotency key was already used.
var ErrDuplicateRequest = errors.New("elimination: duplicate request")
