package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Credentials are the Kite account secrets. They are only ever read from the
// environment and must not be logged.
type Credentials struct {
	APIKey    string `env:"API_KEY,required"`
	APISecret string `env:"API_SECRET"`
	UserID    string `env:"USER_ID"`
	Password  string `env:"PASSWORD"`
	PIN       string `env:"PIN"`
}

type Postgres struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	Database string `env:"DATABASE" envDefault:"autokite"`
	Username string `env:"USERNAME" envDefault:"autokite"`
	Password string `env:"PASSWORD"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`

	MaxConns        int32         `env:"MAX_CONNS" envDefault:"4"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

// DSN builds a pgx connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

type Env struct {
	Kite     Credentials `envPrefix:"KITE_"`
	Postgres Postgres    `envPrefix:"AUTOKITE_PG_"`

	// Root for logs/ and other on-disk artifacts; empty means the working directory.
	Path               string `env:"AUTOKITE_PATH"`
	RedisPassword      string `env:"AUTOKITE_REDIS_PASSWORD"`
	ClickHousePassword string `env:"AUTOKITE_CLICKHOUSE_PASSWORD"`
	LogRetentionDays   int    `env:"TRADER_LOG_RETENTION_DAYS"`
}

// LoadEnv reads .env if present and parses the process environment.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	e := &Env{}
	if err := env.Parse(e); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// LogDir is where the order journal and end-of-day reports are written.
func (e *Env) LogDir() string {
	if e.Path == "" {
		return "logs"
	}
	return filepath.Join(e.Path, "logs")
}

// HasLogin reports whether every secret the browser login needs is present.
func (c Credentials) HasLogin() bool {
	return c.APISecret != "" && c.UserID != "" && c.Password != "" && c.PIN != ""
}
