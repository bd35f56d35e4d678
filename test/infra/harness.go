package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Harness owns a migrated database for one stress run, wherever it came from:
// an explicit DSN, a testcontainers Postgres, or a local server.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness resolves a database and applies migrations. A shared DSN, from
// overrideDSN or STRESS_TEST_PG_DSN, gets an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	h := &Harness{}
	shared := true

	if overrideDSN == "" {
		overrideDSN = os.Getenv("STRESS_TEST_PG_DSN")
	}

	switch {
	case overrideDSN != "":
		h.dsn = overrideDSN
	case dockerAvailable(ctx):
		c, dsn, err := startPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container, h.dsn = c, dsn
		shared = false
	default:
		dsn, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
		h.dsn = dsn
		shared = false
	}

	pool, teardown, err := ApplyMigrations(ctx, h.dsn, shared)
	if err != nil {
		if h.container != nil {
			_ = h.container.Terminate(ctx)
		}
		return nil, err
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool { return h.pool }

func (h *Harness) DSN() string { return h.dsn }

// Close drops the isolated schema, closes the pool and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	var first error
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		first = h.teardown(ctx)
	}
	if h.container != nil {
		if err := h.container.Terminate(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reset truncates every table for a clean epoch.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, `TRUNCATE TABLE outbox_events, reviews, quotes, freight_requests, agent_profiles, users CASCADE`)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("freightflow"),
		postgres.WithUsername("freightflow"),
		postgres.WithPassword("freightflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, dsn, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
