package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/cmd/consol/cli"
	"github.com/odyssey-erp/consolidation/internal/app"
	consolhttp "github.com/odyssey-erp/consolidation/internal/consol/http"
	eliminationhttp "github.com/odyssey-erp/consolidation/internal/elimination/http"
	"github.com/odyssey-erp/consolidation/internal/observability"
	"github.com/odyssey-erp/consolidation/internal/platform/cache"
	"github.com/odyssey-erp/consolidation/internal/platform/db"
	roundinghttp "github.com/odyssey-erp/consolidation/internal/rounding/http"
	"github.com/odyssey-erp/consolidation/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if args := os.Args[1:]; cli.IsCommand(args) {
		os.Exit(cli.Run(ctx, args, cli.Env{
			RedisAddr: cfg.RedisAddr,
			Stdout:    os.Stdout,
			Stderr:    os.Stderr,
			Coverage: func(ctx context.Context) (cli.CoverageChecker, func(), error) {
				pool, err := db.New(ctx, cfg.PGDSN, 2)
				if err != nil {
					return nil, nil, err
				}
				services := app.NewServices(cfg, pool, nil, logger)
				return services.Translation, pool.Close, nil
			},
		}))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	if err := consolhttp.SetupMetrics(metrics.Registerer()); err != nil {
		logger.Warn("register consol metrics", slog.Any("error", err))
	}

	services := app.NewServices(cfg, dbpool, redisClient, logger)

	jobClient := jobs.NewClient(cache.AsynqOpt(cfg.RedisAddr))
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cache.AsynqOpt(cfg.RedisAddr))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ConsolHandler:      consolhttp.NewHandler(logger, services.Workings, services.Builder, services.Translation, jobClient),
		EliminationHandler: eliminationhttp.NewHandler(logger, services.Elimination),
		RoundingHandler:    roundinghttp.NewHandler(logger, services.Rounding),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
