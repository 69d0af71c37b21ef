// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"khip-entitlements/internal/config"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/db/memory"
	pg "khip-entitlements/internal/infra/db/postgres"
	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/infra/metrics"
	red "khip-entitlements/internal/infra/redis"
	"khip-entitlements/internal/infra/sched"
	"khip-entitlements/internal/infra/web"
	"khip-entitlements/internal/usecase"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory store, redis optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit)

	// ---- Store ----
	var (
		purchases repository.PurchaseRepository
		txm       repository.TransactionManager
		poolStats sched.PoolStatsFunc
	)
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		purchases = pg.NewPurchaseRepo(pool)
		txm = pg.NewTxManager(pool)
		poolStats = func() (int32, int32, int32) { return pg.PoolStats(pool) }
	} else {
		logger.Warn().Msg("database.url not set; using the in-memory store")
		purchases = memory.NewPurchaseRepo()
		txm = memory.TxManager{}
	}

	// ---- Redis (cache, locks, trial rate limit) ----
	var (
		locker  usecase.Locker
		limiter usecase.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		purchases = pg.NewPurchaseRepoCacheDecorator(purchases, redisClient, cfg.Redis.TTL, logger)
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; running without cache, locks or trial rate limit")
	}

	// ---- Use cases ----
	entUC := usecase.NewEntitlementUseCase(purchases, logger)
	accessUC := usecase.NewAccessUseCase(entUC, logger)
	purchaseUC := usecase.NewPurchaseUseCase(purchases, entUC, limiter, usecase.TrialLimit{PerHour: cfg.RateLimit.TrialPerHour}, logger)
	lifecycleUC := usecase.NewLifecycleUseCase(purchases, txm, locker, logger)
	queueUC := usecase.NewAdminQueueUseCase(purchases, lifecycleUC, logger)

	// ---- HTTP ----
	server := web.NewServer(ctx, cfg, web.Deps{
		Purchases:    purchaseUC,
		Entitlements: entUC,
		Access:       accessUC,
		Queue:        queueUC,
	}, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Queue worker ----
	worker := sched.NewQueueWorker(cfg.Scheduler.QueueInterval, queueUC, poolStats, logger)
	go func() { _ = worker.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
