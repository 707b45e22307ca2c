// Package bootstrap собирает общую инфраструктуру процессов server и worker:
// логгер, пул PostgreSQL со схемой и каталогом, опциональный Redis.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cyberguard/cyberguard-training/config"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/postgres"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/redis"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/retry"
)

// NewLogger строит логгер процесса по конфигурации.
func NewLogger(cfg *config.Config, process string) *logger.Logger {
	return logger.New(logger.Options{
		Output:      os.Stdout,
		Level:       logger.ParseLevel(cfg.Observability.LogLevel),
		Format:      cfg.Observability.LogFormat,
		AddCaller:   true,
		ServiceName: cfg.App.Name + "-" + process,
	}).With(
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}

// PostgresConfig переводит настройки БД в конфигурацию пула.
func PostgresConfig(cfg config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.URL
	pc.MaxConns = int32(cfg.MaxConns)
	pc.MinConns = int32(cfg.MinConns)
	pc.MaxConnLifetime = cfg.ConnMaxLifetime
	pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	return pc
}

// RedisConfig переводит настройки Redis в конфигурацию клиента.
func RedisConfig(cfg config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout
	return rc
}

// OpenDatabase подключается к PostgreSQL. Первое подключение повторяется:
// база в docker-compose поднимается дольше приложения.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*postgres.Connection, error) {
	var conn *postgres.Connection

	r := retry.New(
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(500*time.Millisecond),
		retry.WithMaxDelay(5*time.Second),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not ready, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	err := r.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, PostgresConfig(cfg))
		if err != nil {
			return retry.Retryable(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	log.Info("database connection established",
		logger.Int("max_conns", cfg.MaxConns),
	)
	return conn, nil
}

// PrepareDatabase применяет миграции и загружает каталог. Обе операции
// идемпотентны, их выполняют оба процесса при старте.
func PrepareDatabase(ctx context.Context, conn *postgres.Connection, log *logger.Logger) error {
	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	seed, err := postgres.LoadSeedCatalog()
	if err != nil {
		return fmt.Errorf("load seed catalog: %w", err)
	}
	if err := postgres.NewSeeder(conn).Apply(ctx, seed); err != nil {
		return fmt.Errorf("apply seed catalog: %w", err)
	}
	log.Info("catalog seeded", logger.Int("categories", len(seed.Categories)))

	return nil
}

// OpenCache подключается к Redis. Возвращает nil, nil, если Redis отключён.
func OpenCache(cfg config.RedisConfig, log *logger.Logger) (*redis.Cache, error) {
	if cfg.Disabled {
		log.Warn("redis disabled: sessions live in process memory, caches are off")
		return nil, nil
	}

	rc := RedisConfig(cfg)
	cache, err := redis.NewCache(rc)
	if err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", rc.Addr(), err)
	}

	log.Info("redis connection established", logger.String("addr", rc.Addr()))
	return cache, nil
}
