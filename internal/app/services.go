package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/elimination"
	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/platform/cache"
	"github.com/odyssey-erp/consolidation/internal/rounding"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Services holds the domain services shared by the API server and the worker.
type Services struct {
	Ledger      *ledger.Repository
	Idempotency *shared.IdempotencyStore
	Translation *fx.Engine
	Elimination *elimination.Service
	Rounding    *rounding.Service
	Workings    *consol.Service
	Builder     *consol.Builder
}

// NewServices wires repositories, the Redis locker and the domain services.
// A nil redisClient leaves the critical sections unguarded.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient redis.UniversalClient, logger *slog.Logger) *Services {
	var locker shared.Locker
	if redisClient != nil {
		locker = cache.NewLocker(redisClient, cfg.LockTTL)
	}
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	ledgerRepo := ledger.NewRepository(pool)

	translation := fx.NewEngine(ledgerRepo, fx.NewRepository(pool), auditLogger, logger, fx.EngineConfig{
		UpdateBatch: cfg.UpdateBatch,
		Locker:      locker,
	})

	eliminationService := elimination.NewService(elimination.NewRepository(pool), ledgerRepo, auditLogger, logger)
	eliminationService.WithIdempotency(idempotency)

	roundingService := rounding.NewService(ledgerRepo, rounding.NewRepository(pool), auditLogger, logger, rounding.Config{
		UpdateBatch: cfg.UpdateBatch,
		Tolerance:   cfg.RoundingTolerance,
		Locker:      locker,
	})

	workings := consol.NewService(consol.NewRepository(pool), consol.NewPGHierarchyGenerator(pool), auditLogger, logger, consol.Config{
		InsertBatch: cfg.WorkingsBatch,
		Locker:      locker,
	})

	return &Services{
		Ledger:      ledgerRepo,
		Idempotency: idempotency,
		Translation: translation,
		Elimination: eliminationService,
		Rounding:    roundingService,
		Workings:    workings,
		Builder:     consol.NewBuilder(ledgerRepo, eliminationService),
	}
}
