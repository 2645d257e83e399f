// Package cli implements the operational subcommands of the consol binary.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Env supplies the dependencies of the subcommands. Coverage opens the
// database lazily so queue commands do not need Postgres.
type Env struct {
	RedisAddr string
	Stdout    io.Writer
	Stderr    io.Writer
	Coverage  func(ctx context.Context) (CoverageChecker, func(), error)
}

// IsCommand reports whether args name a CLI subcommand rather than the server.
func IsCommand(args []string) bool {
	return len(args) > 0 && (args[0] == "fx" || args[0] == "jobs")
}

// Run dispatches args and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(env.Stderr, "usage: consol fx coverage | consol jobs generate|translate|stats|scheduled")
		return 2
	}
	switch args[0] + " " + args[1] {
	case "fx coverage":
		return runCoverage(ctx, args[2:], env)
	case "jobs generate", "jobs translate", "jobs stats", "jobs scheduled":
		return runJobs(ctx, args[1], args[2:], env)
	default:
		_, _ = fmt.Fprintf(env.Stderr, "unknown command %q\n", strings.Join(args[:2], " "))
		return 2
	}
}

type tenantFlags struct {
	company string
	user    string
	email   string
}

func (f *tenantFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.company, "company", "", "company id")
	fs.StringVar(&f.user, "user", "", "acting user id")
	fs.StringVar(&f.email, "email", "", "acting user email")
}

func (f tenantFlags) tenant() (shared.Tenant, error) {
	companyID, err := uuid.Parse(strings.TrimSpace(f.company))
	if err != nil {
		return shared.Tenant{}, fmt.Errorf("--company must be a uuid")
	}
	var userID uuid.UUID
	if f.user != "" {
		if userID, err = uuid.Parse(strings.TrimSpace(f.user)); err != nil {
			return shared.Tenant{}, fmt.Errorf("--user must be a uuid")
		}
	}
	return shared.Tenant{CompanyID: companyID, UserID: userID, Email: f.email}, nil
}

func runCoverage(ctx context.Context, args []string, env Env) int {
	fs := flag.NewFlagSet("fx coverage", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	var tf tenantFlags
	tf.register(fs)
	entity := fs.String("entity", "", "entity id")
	period := fs.String("period", "", "period YYYY-MM")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tenant, err := tf.tenant()
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "fx coverage: %v\n", err)
		return 2
	}
	if env.Coverage == nil {
		_, _ = fmt.Fprintln(env.Stderr, "fx coverage: translation engine not configured")
		return 1
	}
	checker, closeFn, err := env.Coverage(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "fx coverage: %v\n", err)
		return 1
	}
	defer closeFn()
	return NewFXOpsCLI(checker).CoverageCommand(ctx, FXCoverageOptions{
		Tenant:     tenant,
		EntityID:   *entity,
		Period:     *period,
		JSONOutput: *asJSON,
		Stdout:     env.Stdout,
		Stderr:     env.Stderr,
	})
}

func runJobs(ctx context.Context, sub string, args []string, env Env) int {
	fs := flag.NewFlagSet("jobs "+sub, flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	var tf tenantFlags
	tf.register(fs)
	period := fs.String("period", "", "period YYYY-MM")
	statement := fs.String("statement", "", "statement type, empty for all")
	entity := fs.String("entity", "", "entity id")
	size := fs.Int("size", 10, "page size for scheduled tasks")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobsCLI := NewJobsCLI(env.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	var (
		out any
		err error
	)
	switch sub {
	case "generate", "translate":
		tenant, tErr := tf.tenant()
		if tErr != nil {
			_, _ = fmt.Fprintf(env.Stderr, "jobs %s: %v\n", sub, tErr)
			return 2
		}
		var id string
		if sub == "generate" {
			id, err = jobsCLI.TriggerGenerate(ctx, tenant, *period, *statement)
		} else {
			entityID, pErr := uuid.Parse(*entity)
			if pErr != nil {
				_, _ = fmt.Fprintln(env.Stderr, "jobs translate: --entity must be a uuid")
				return 2
			}
			id, err = jobsCLI.TriggerTranslate(ctx, tenant, entityID, *period)
		}
		out = map[string]string{"task_id": id}
	case "stats":
		out, err = jobsCLI.InspectQueue(ctx)
	case "scheduled":
		out, err = jobsCLI.ListScheduled(ctx, *size)
	}
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "jobs %s: %v\n", sub, err)
		return 1
	}
	if err := json.NewEncoder(env.Stdout).Encode(out); err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "jobs %s: encode json: %v\n", sub, err)
		return 1
	}
	return 0
}
