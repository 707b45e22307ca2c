// Package main - точка входа HTTP API платформы CyberGuard.
//
// Процесс обслуживает каталог обучения, записывает завершения активностей
// (XP, уровни, серии, достижения) и отдаёт профиль пользователя.
// Фоновые задачи живут в cmd/worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberguard/cyberguard-training/config"
	"github.com/cyberguard/cyberguard-training/internal/application/command"
	"github.com/cyberguard/cyberguard-training/internal/application/eventhandler"
	"github.com/cyberguard/cyberguard-training/internal/application/progression"
	"github.com/cyberguard/cyberguard-training/internal/application/query"
	"github.com/cyberguard/cyberguard-training/internal/bootstrap"
	domain "github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/messaging"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/metrics"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/memory"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/postgres"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/redis"
	httpapi "github.com/cyberguard/cyberguard-training/internal/interface/http"
	"github.com/cyberguard/cyberguard-training/internal/interface/http/handlers"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

const (
	poolStatsInterval    = 15 * time.Second
	sessionSweepInterval = 5 * time.Minute
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
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg, "server")
	defer func() { _ = log.Sync() }()

	log.Info("starting CyberGuard API",
		logger.String("timezone", cfg.App.Timezone),
		logger.Any("features", cfg.Features.Snapshot()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.NewSystemClock(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩА
	// ─────────────────────────────────────────────────────────────────────────
	db, err := bootstrap.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bootstrap.PrepareDatabase(ctx, db, log); err != nil {
		return err
	}

	cache, err := bootstrap.OpenCache(cfg.Redis, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. МЕТРИКИ И EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	bus := messaging.NewInMemoryEventBus(messaging.Config{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		Logger:         log,
		Observer:       m,
	})
	defer func() { _ = bus.Close() }()

	dispatcher := messaging.NewDispatcher(bus, messaging.DispatcherConfig{Logger: log})
	defer dispatcher.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. РЕПОЗИТОРИИ И КЕШИ
	// ─────────────────────────────────────────────────────────────────────────
	catalogRepo := postgres.NewCatalogRepository(db)
	users := postgres.NewUserRepository(db)
	prefs := postgres.NewPreferenceRepository(db)

	var (
		items        domain.ItemResolver = catalogRepo
		sessions     user.SessionStore
		memSessions  *memory.SessionStore
		profileCache query.ProfileCache
		invalidation eventhandler.Handler
	)

	if cache != nil {
		items = redis.NewCatalogCache(catalogRepo, cache, log)
		sessions = redis.NewSessionStore(cache)
		pc := redis.NewProfileCache(cache, log)
		profileCache = pc
		invalidation = eventhandler.NewProfileInvalidationHandler(pc, log)
	} else {
		memSessions = memory.NewSessionStore(clock)
		sessions = memSessions
	}

	if err := eventhandler.Register(dispatcher,
		eventhandler.NewProgressMetricsHandler(m),
		eventhandler.NewProgressLogHandler(log),
		invalidation,
	); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПРИЛОЖЕНИЕ (CQRS)
	// ─────────────────────────────────────────────────────────────────────────
	recorder := progression.NewRecorder(
		postgres.NewUnitOfWork(db),
		items,
		progression.NewEvaluator(log),
		bus,
		cfg.Features,
		clock,
		log,
		progression.Config{TxMaxAttempts: cfg.Database.TxMaxAttempts},
	)

	deps := httpapi.Dependencies{
		Login: command.NewLoginHandler(users, sessions, bus, clock, log, command.LoginConfig{
			SessionTTL: cfg.Session.TTL,
			BcryptCost: cfg.Session.BcryptCost,
		}),
		Logout:               command.NewLogoutHandler(sessions),
		Complete:             command.NewCompleteActivityHandler(recorder, items),
		SavePreferences:      command.NewSavePreferencesHandler(prefs, bus),
		SavePushSubscription: command.NewSavePushSubscriptionHandler(postgres.NewPushSubscriptionRepository(db)),
		SaveQuizSession:      command.NewSaveQuizSessionHandler(postgres.NewQuizSessionRepository(db)),

		Catalog: query.NewCatalogQueryHandler(catalogRepo, clock).WithQuestionLimit(cfg.Progression.QuestionLimit),
		Profile: query.NewGetProfileHandler(query.ProfileSources{
			Users:       users,
			Progress:    postgres.NewLedgerRepository(db),
			Rewards:     postgres.NewRewardRepository(db),
			Streaks:     postgres.NewStreakRepository(db),
			Activity:    postgres.NewActivityLogRepository(db),
			Preferences: prefs,
			Catalog:     catalogRepo,
		}, profileCache, clock, log),
		Preferences: query.NewGetPreferencesHandler(prefs),

		Sessions: sessions,
		Health:   newHealthChecker(cfg, db, cache, dispatcher.DeadLetterQueue()),
		Features: cfg.Features,
		Metrics:  m,
		Logger:   log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server, err := httpapi.NewServer(httpConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx, cfg.App.ShutdownTimeout)
	})
	g.Go(func() error {
		collectPoolStats(gctx, db, m)
		return nil
	})
	if memSessions != nil {
		g.Go(func() error {
			sweepSessions(gctx, memSessions, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func httpConfig(cfg *config.Config) httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.TrustedProxies = cfg.HTTP.TrustedProxies
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.SessionCookie = cfg.Session.CookieName
	hc.SecureCookie = cfg.Session.Secure
	hc.Debug = cfg.App.Debug
	hc.MetricsPath = ""
	if cfg.Observability.MetricsEnabled {
		hc.MetricsPath = cfg.Observability.MetricsPath
	}
	return hc
}

func newHealthChecker(
	cfg *config.Config,
	db *postgres.Connection,
	cache *redis.Cache,
	dlq *messaging.DeadLetterQueue,
) *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(cfg.App.Version)
	hc.AddCheck("database", handlers.NewDatabaseCheck(db))
	hc.AddOptionalCheck("event_handlers", dlq.HealthCheck)
	if cache != nil {
		hc.AddOptionalCheck("redis", handlers.NewCacheCheck(cache))
	}
	return hc
}

func collectPoolStats(ctx context.Context, db *postgres.Connection, m *metrics.Metrics) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := db.Pool().Stat()
			m.RecordDBPoolStats(s.TotalConns(), s.AcquiredConns(), s.IdleConns(), s.EmptyAcquireCount())
		}
	}
}

func sweepSessions(ctx context.Context, store *memory.SessionStore, log *logger.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Debug("expired sessions removed", logger.Int("count", n))
			}
		}
	}
}
