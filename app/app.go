// Package app wires configuration into a running marketplace: store, services,
// HTTP handler and background workers. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"freightflow/agent"
	"freightflow/api"
	"freightflow/auth"
	"freightflow/config"
	"freightflow/db"
	"freightflow/freight"
	"freightflow/outbox"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/review"
	"freightflow/store"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Services api.Services
	Relay    *outbox.Relay
	Sweeper  *quote.Sweeper

	redis   *redis.Client
	closers []func() error
}

// Build connects the configured backends. Postgres is used when a DSN is
// set, otherwise everything lives in memory for the life of the process.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Postgres.DSN != "" {
		pool, err := db.NewPool(ctx, cfg.Postgres.DSN, db.PoolOptions{
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "files", applied)
		}
		a.Store = store.NewPostgres(pool)
	} else {
		logger.Warn("no postgres dsn configured, using in-memory store")
		a.Store = store.NewMemory()
	}

	pol := policy.New()
	if cfg.Policy.VerifiedQuoteAbove > 0 {
		pol.WithRule(policy.QuoteAccept, policy.AgentVerifiedAbove(cfg.Policy.VerifiedQuoteAbove))
	}

	writer := outbox.NewWriter()
	agents := agent.NewService(a.Store, pol, writer)
	engine := freight.NewEngine(a.Store, pol, writer, agents)
	quotes := quote.NewService(a.Store, engine, pol).WithDefaultTTL(cfg.Quotes.DefaultTTL)
	authSvc := auth.NewService(auth.NewRepository(a.Store, writer), cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL)

	a.Services = api.Services{
		Auth:     authSvc,
		Requests: engine,
		Quotes:   quotes,
		Agents:   agents,
		Reviews:  review.NewService(a.Store, engine, pol, agents),
	}
	a.Sweeper = quote.NewSweeper(quotes, cfg.Quotes.SweepInterval, logger)

	var publisher outbox.Publisher = outbox.LogPublisher{Log: logger.Debug}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := outbox.NewKafkaPublisher(outbox.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		a.closers = append(a.closers, kp.Close)
		publisher = kp
	}
	a.Relay = outbox.NewRelay(a.Store, publisher, logger).
		WithInterval(cfg.Outbox.PollInterval).
		WithBatchSize(cfg.Outbox.BatchSize)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}

	return a, nil
}

// Handler returns the HTTP surface, with idempotency keys when Redis is configured.
func (a *App) Handler() http.Handler {
	srv := api.NewServer(a.Services, a.Logger)
	if a.redis != nil {
		srv.WithIdempotency(api.NewRedisIdempotency(a.redis, a.Config.Redis.KeyTTL))
	}
	return srv.Handler()
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
