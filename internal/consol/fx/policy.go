package fx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Method enumerates rate types a translation rule may carry. The engine applies
// the rule's rate as given; the method is descriptive.
type Method string

const (
	// MethodAverage represents average rate usage for P&L.
	MethodAverage Method = "AVERAGE"
	// MethodClosing represents closing rate usage for balance sheet.
	MethodClosing Method = "CLOSING"
	// MethodHistorical represents historical rates for equity.
	MethodHistorical Method = "HISTORICAL"
)

// AppliesTo is the stored discriminator of a rule target.
type AppliesTo string

const (
	AppliesToSpecificGL AppliesTo = "specific_gl"
	AppliesToClass      AppliesTo = "class"
	AppliesToAll        AppliesTo = "all"
)

// RuleTarget selects the trial balance records a rule applies to. It is closed
// to SpecificGL, Class and All.
type RuleTarget interface {
	AppliesTo() AppliesTo
	isRuleTarget()
}

// SpecificGL targets a single account code.
type SpecificGL struct{ Code string }

// Class targets every account whose chart-of-account class matches.
type Class struct{ Name string }

// All targets every record.
type All struct{}

func (SpecificGL) AppliesTo() AppliesTo { return AppliesToSpecificGL }
func (Class) AppliesTo() AppliesTo { return AppliesToClass }
func (All) AppliesTo() AppliesTo { return AppliesToAll }

func (SpecificGL) isRuleTarget() {}
func (Class) isRuleTarget() {}
func (All) isRuleTarget() {}

// Matches reports whether target covers the account with the given class.
func Matches(target RuleTarget, accountCode, className string) bool {
	switch t := target.(type) {
	case SpecificGL:
		return t.Code != "" && t.Code == accountCode
	case Class:
		return t.Name != "" && t.Name == className
	case All:
		return true
	default:
		return false
	}
}

// ParseTarget decodes the stored discriminator and its operand.
func ParseTarget(appliesTo, glCode, className string) (RuleTarget, error) {
	switch AppliesTo(strings.ToLower(strings.TrimSpace(appliesTo))) {
	case AppliesToSpecificGL:
		code := strings.TrimSpace(glCode)
		if code == "" {
			return nil, fmt.Errorf("%w: specific_gl rule requires gl account code", shared.ErrValidation)
		}
		return SpecificGL{Code: code}, nil
	case AppliesToClass:
		name := strings.TrimSpace(className)
		if name == "" {
			return nil, fmt.Errorf("%w: class rule requires class name", shared.ErrValidation)
		}
		return Class{Name: name}, nil
	case AppliesToAll:
		return All{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported applies_to %q", shared.ErrValidation, appliesTo)
	}
}

// EncodeTarget returns the stored discriminator and operands of target.
func EncodeTarget(target RuleTarget) (appliesTo AppliesTo, glCode, className string) {
	switch t := target.(type) {
	case SpecificGL:
		return AppliesToSpecificGL, t.Code, ""
	case Class:
		return AppliesToClass, "", t.Name
	default:
		return AppliesToAll, "", ""
	}
}

// Rule describes how an entity's balances are translated.
type Rule struct {
	ID         uuid.UUID
	EntityID   uuid.UUID
	Target     RuleTarget
	RateValue  *float64
	RateType   Method
	ToCurrency string
	Priority   int
	Active     bool
}

// Rate returns the usable rate of the rule. A missing or zero rate is unusable.
func (r Rule) Rate() (float64, bool) {
	if r.RateValue == nil || *r.RateValue == 0 {
		return 0, false
	}
	return *r.RateValue, true
}

// SelectRule returns the first rule in slice order that matches the account.
// Callers pass rules sorted by ascending priority.
func SelectRule(rules []Rule, accountCode, className string) (Rule, bool) {
	for _, rule := range rules {
		if Matches(rule.Target, accountCode, className) {
			return rule, true
		}
	}
	return Rule{}, false
}
