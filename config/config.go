// Package config loads process settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Quotes   Quotes   `yaml:"quotes"`
	Policy   Policy   `yaml:"policy"`
	Outbox   Outbox   `yaml:"outbox"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"freightflow"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Postgres is optional; an empty DSN selects the in-memory store.
type Postgres struct {
	DSN      string `yaml:"dsn" env:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"POSTGRES_MIN_CONNS" env-default:"0"`
}

// Redis backs idempotency keys; an empty Addr disables them.
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyTTL   time.Duration `yaml:"key_ttl" env:"IDEMPOTENCY_TTL" env-default:"24h"`
}

// Kafka receives outbox events; without brokers events are only logged.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"freightflow-events"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TTL" env-default:"24h"`
}

type Quotes struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" env:"QUOTE_DEFAULT_TTL" env-default:"72h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"QUOTE_SWEEP_INTERVAL" env-default:"1m"`
}

// Policy holds optional authorization rules. A zero threshold disables the
// verified-agent rule.
type Policy struct {
	VerifiedQuoteAbove float64 `yaml:"verified_quote_above" env:"POLICY_VERIFIED_QUOTE_ABOVE" env-default:"0"`
}

type Outbox struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"OUTBOX_POLL_INTERVAL" env-default:"2s"`
	BatchSize    int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"100"`
}

var ErrMissingSecret = errors.New("config: auth.jwt_secret (JWT_SECRET) is required")

// Load reads path when it exists, then applies environment overrides. An
// empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers

	if c.Auth.JWTSecret == "" {
		return ErrMissingSecret
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("config: outbox.batch_size must be positive, got %d", c.Outbox.BatchSize)
	}
	return nil
}
