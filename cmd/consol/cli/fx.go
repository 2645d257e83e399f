package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// CoverageChecker reports which trial balance records the active rules miss.
type CoverageChecker interface {
	Coverage(ctx context.Context, entityID uuid.UUID, period string) (fx.Coverage, error)
}

// FXOpsCLI offers operational helpers around translation rules.
type FXOpsCLI struct {
	checker CoverageChecker
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(checker CoverageChecker) *FXOpsCLI {
	return &FXOpsCLI{checker: checker}
}

// FXCoverageOptions defines available flags for the fx coverage command.
type FXCoverageOptions struct {
	Tenant     shared.Tenant
	EntityID   string
	Period     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXCoverageSummary describes the JSON response for fx coverage.
type FXCoverageSummary struct {
	OK       bool            `json:"ok"`
	EntityID string          `json:"entity_id"`
	Period   string          `json:"period"`
	Checked  int             `json:"checked"`
	Covered  int             `json:"covered"`
	Gaps     []FXCoverageGap `json:"gaps"`
}

// FXCoverageGap captures one record the rules cannot translate.
type FXCoverageGap struct {
	AccountCode string `json:"account_code"`
	ClassName   string `json:"class_name,omitempty"`
	Reason      string `json:"reason"`
}

// CoverageCommand checks rule coverage and prints the outcome. It exits 10
// when gaps exist.
func (c *FXOpsCLI) CoverageCommand(ctx context.Context, opts FXCoverageOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.checker == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "fx coverage: translation engine not configured")
		return 1
	}
	entityID, err := uuid.Parse(opts.EntityID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx coverage: invalid entity %q\n", opts.EntityID)
		return 1
	}
	if err := shared.ValidatePeriod(opts.Period); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx coverage: invalid period %q (expected YYYY-MM)\n", opts.Period)
		return 1
	}
	cov, err := c.checker.Coverage(shared.ContextWithTenant(ctx, opts.Tenant), entityID, opts.Period)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx coverage: %v\n", err)
		return 1
	}
	summary := buildCoverageSummary(entityID, opts.Period, cov)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx coverage: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCoverageHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildCoverageSummary(entityID uuid.UUID, period string, cov fx.Coverage) FXCoverageSummary {
	gaps := make([]FXCoverageGap, 0, len(cov.Gaps))
	for _, gap := range cov.Gaps {
		gaps = append(gaps, FXCoverageGap{AccountCode: gap.AccountCode, ClassName: gap.ClassName, Reason: gap.Reason})
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].AccountCode < gaps[j].AccountCode })
	return FXCoverageSummary{
		OK:       len(gaps) == 0,
		EntityID: entityID.String(),
		Period:   period,
		Checked:  cov.Checked,
		Covered:  cov.Covered,
		Gaps:     gaps,
	}
}

func renderCoverageHuman(out io.Writer, summary FXCoverageSummary) {
	_, _ = fmt.Fprintf(out, "Translation coverage for entity %s, period %s\n", summary.EntityID, summary.Period)
	_, _ = fmt.Fprintf(out, "%d of %d record(s) covered\n", summary.Covered, summary.Checked)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All records have a rule with a rate.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
	for _, gap := range summary.Gaps {
		_, _ = fmt.Fprintf(out, " - %s: %s\n", gap.AccountCode, gap.Reason)
	}
}
