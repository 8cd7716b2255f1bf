package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autokite/internal/bootstrap"
	"autokite/internal/interfaces"
	"autokite/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	what := flag.String("show", "all", "what to print: orders, positions, holdings or all")
	flag.Parse()

	switch *what {
	case "orders", "positions", "holdings", "all":
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown -show %q\n", *what)
		flag.Usage()
		os.Exit(2)
	}

	cfg, env, err := bootstrap.Init(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, env)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to initialize", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(shutdownCtx)
	}()

	out, err := collect(ctx, app.Broker, *what)
	if err != nil {
		logger.ErrorWithErr(ctx, "Portfolio query failed", err, "show", *what)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func collect(ctx context.Context, brk interfaces.Broker, what string) (map[string]any, error) {
	out := map[string]any{}
	if what == "orders" || what == "all" {
		orders, err := brk.Orders(ctx)
		if err != nil {
			return nil, err
		}
		out["orders"] = orders
	}
	if what == "positions" || what == "all" {
		positions, err := brk.Positions(ctx)
		if err != nil {
			return nil, err
		}
		out["positions"] = positions
	}
	if what == "holdings" || what == "all" {
		holdings, err := brk.Holdings(ctx)
		if err != nil {
			return nil, err
		}
		out["holdings"] = holdings
	}
	return out, nil
}
