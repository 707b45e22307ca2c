// Package main - точка входа фоновых процессов (Worker) CyberGuard.
//
// Worker отвечает за периодические задачи:
// - Генерация ежедневных заданий на неделю вперёд
//
// Схема БД и каталог применяются при старте так же, как в API, поэтому
// worker можно запускать первым.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/cyberguard/cyberguard-training/config"
	"github.com/cyberguard/cyberguard-training/internal/bootstrap"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/metrics"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/postgres"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/redis"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/scheduler"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/scheduler/jobs"
	"github.com/cyberguard/cyberguard-training/internal/interface/http/handlers"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg, "worker")
	defer func() { _ = log.Sync() }()

	log.Info("starting CyberGuard worker",
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. БАЗА ДАННЫХ (схема и каталог)
	// ─────────────────────────────────────────────────────────────────────────
	db, err := bootstrap.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bootstrap.PrepareDatabase(ctx, db, log); err != nil {
		return err
	}

	catalogRepo := postgres.NewCatalogRepository(db)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально): сброс кеша каталога после загрузки
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := bootstrap.OpenCache(cfg.Redis, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()

		if err := redis.NewCatalogCache(catalogRepo, cache, log).Flush(ctx); err != nil {
			log.Warn("failed to flush catalog cache", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	sched := scheduler.New(scheduler.Config{
		Logger:       log,
		Observer:     m,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
	})

	if cfg.Scheduler.Enabled {
		if err := registerJobs(sched, cfg, catalogRepo, log); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HEALTH & METRICS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewDatabaseCheck(db))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewCacheCheck(cache))
	}

	srv := &http.Server{
		Addr:              cfg.Observability.WorkerAddr,
		Handler:           opsRouter(health, m, cfg.Observability.MetricsPath),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("worker endpoint listening", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("worker endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("worker is running", logger.Any("jobs", sched.ListJobs()))

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, challenges *postgres.CatalogRepository, log *logger.Logger) error {
	schedule, err := scheduler.ParseCronExpression(cfg.Scheduler.ChallengeSchedule)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_CHALLENGE_SCHEDULE: %w", err)
	}

	job := jobs.NewGenerateDailyChallengesJob(
		challenges,
		timeutil.NewSystemClock(cfg.App.Location),
		log,
		jobs.GenerateDailyChallengesConfig{
			HorizonDays: cfg.Scheduler.ChallengeHorizonDays,
			Timeout:     time.Minute,
		},
	)

	if err := sched.RegisterRunOnStart(job, schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	return nil
}

func opsRouter(health handlers.HealthChecker, m *metrics.Metrics, metricsPath string) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", handlers.Health(health))
	r.GET("/live", handlers.Live)
	if metricsPath != "" {
		r.GET(metricsPath, gin.WrapH(m.Handler()))
	}
	return r
}
