// Package bootstrap holds the process wiring every command shares.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"autokite/internal/broker/brokerobs"
	"autokite/internal/broker/zerodha"
	"autokite/internal/browser"
	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/retry"
	"autokite/internal/session"
	"autokite/internal/store"
	"autokite/internal/trace"
	"autokite/internal/tradelog"
)

// App is the wired set of collaborators a command works with.
type App struct {
	Config   *store.Config
	Env      *store.Env
	Sessions *session.Provider
	Broker   interfaces.Broker
	Journal  *tradelog.Journal

	closers []func() error
}

// Init loads the environment, starts logging and tracing, and reads the
// config file. It does not touch the network.
func Init(configPath string) (*store.Config, *store.Env, error) {
	env, err := store.LoadEnv()
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	return cfg, env, nil
}

// New wires the session provider and the observable Kite client.
func New(ctx context.Context, cfg *store.Config, env *store.Env) (*App, error) {
	app := &App{Config: cfg, Env: env, Journal: tradelog.New(env.LogDir())}

	cache, err := newSessionCache(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	if c, ok := cache.(interface{ Close() error }); ok {
		app.closers = append(app.closers, c.Close)
	}

	auth := zerodha.NewAuthenticator(env.Kite.APIKey, env.Kite.APISecret)
	manager := session.NewManager(browser.NewLauncher(cfg), auth, env.Kite, cfg)
	app.Sessions = session.NewProvider(manager, cache, retry.FromConfig(cfg.Retry.Session))

	app.Broker = brokerobs.Wrap(zerodha.NewClient(env.Kite.APIKey, app.Sessions), brokerobs.Policies{
		Instruments: retry.FromConfig(cfg.Retry.Instruments),
		Portfolio:   retry.FromConfig(cfg.Retry.Portfolio),
	})

	logger.Info(ctx, "Application wired",
		"exchange", cfg.Exchange,
		"instruments", len(cfg.Instruments),
		"session_cache", cfg.Session.Cache,
		"log_dir", env.LogDir(),
	)
	return app, nil
}

func newSessionCache(ctx context.Context, cfg *store.Config, env *store.Env) (interfaces.SessionCache, error) {
	switch cfg.Session.Cache {
	case "redis":
		c, err := session.NewRedisCache(cfg.Redis.Addr, env.RedisPassword, cfg.Redis.DB, cfg.Redis.Key)
		if err != nil {
			return nil, fmt.Errorf("session cache: %w", err)
		}
		logger.Info(ctx, "Using redis session cache", "addr", cfg.Redis.Addr, "key", cfg.Redis.Key)
		return c, nil
	default:
		return session.NewMemoryCache(), nil
	}
}

// ResolveInstruments maps the configured symbols to instrument tokens.
func (a *App) ResolveInstruments(ctx context.Context) (map[string]uint32, error) {
	return a.Broker.ResolveTokens(ctx, a.Config.Exchange, a.Config.Instruments)
}

// CompressJournal applies TRADER_LOG_RETENTION_DAYS to the order journal.
func (a *App) CompressJournal(ctx context.Context) {
	if a.Env.LogRetentionDays <= 0 {
		return
	}
	if err := a.Journal.CompressOlder(a.Env.LogRetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err, "retention_days", a.Env.LogRetentionDays)
	}
}

// Close releases what New opened and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, trace.Shutdown(ctx))
	return errors.Join(errs...)
}
