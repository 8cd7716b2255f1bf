package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autokite/internal/bootstrap"
	"autokite/internal/broker/zerodha"
	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/market"
	"autokite/internal/retry"
	"autokite/internal/status"
	"autokite/internal/store"
	"autokite/internal/stream"
	"autokite/internal/tickbus"
	"autokite/internal/tickstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, env, err := bootstrap.Init(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env); err != nil {
		logger.ErrorWithErr(ctx, "Stream stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *store.Config, env *store.Env) error {
	app, err := bootstrap.New(ctx, cfg, env)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(shutdownCtx)
	}()

	app.CompressJournal(ctx)

	tokens, err := app.ResolveInstruments(ctx)
	if err != nil {
		return fmt.Errorf("resolve instruments: %w", err)
	}

	sink, err := tickstore.New(ctx, cfg, env)
	if err != nil {
		return err
	}

	var publisher interfaces.TickPublisher
	if cfg.Kafka.Enabled {
		publisher, err = tickbus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			_ = sink.Close()
			return fmt.Errorf("tick publisher: %w", err)
		}
	}

	gate, err := market.NewGate(cfg, market.SystemClock)
	if err != nil {
		_ = sink.Close()
		return err
	}

	engine, err := stream.NewEngine(stream.Options{
		Gate:                      gate,
		Sessions:                  app.Sessions,
		Connector:                 zerodha.NewFeedConnector(env.Kite.APIKey, tokens, cfg),
		Sink:                      sink,
		Publisher:                 publisher,
		MirrorQueue:               cfg.Kafka.QueueDepth,
		MirrorTimeout:             cfg.Kafka.PublishTimeout,
		Tokens:                    tokens,
		PollInterval:              cfg.Market.PollInterval,
		ConnectPolicy:             retry.FromConfig(cfg.Retry.Connect),
		MaxConsecutiveStoreErrors: cfg.Stream.MaxConsecutiveStoreErrors,
		ReportDir:                 env.LogDir(),
	})
	if err != nil {
		_ = sink.Close()
		return err
	}

	if cfg.Status.Enabled {
		srv := status.NewServer(cfg.Status.Addr, func() any { return engine.Status() })
		srv.Start(ctx)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn(ctx, "Status server did not stop cleanly", "error", err)
			}
		}()
	}

	logger.Info(ctx, "Starting stream", "exchange", cfg.Exchange, "instruments", len(tokens), "storage", cfg.Storage.Backend)
	return engine.Run(ctx)
}
