package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autokite/internal/bootstrap"
	"autokite/internal/historical"
	"autokite/internal/logger"
	"autokite/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "trading symbol, e.g. INFY (required)")
	from := flag.String("from", "", "start date as dd-mm-yyyy (required)")
	interval := flag.String("interval", "", "candle interval; defaults to historical.interval from the config")
	output := flag.String("output", "", "write CSV to this file instead of stdout")
	flag.Parse()

	if *symbol == "" || *from == "" {
		fmt.Fprintln(os.Stderr, "Error: -symbol and -from are required")
		flag.Usage()
		os.Exit(2)
	}
	start, err := historical.ParseStartDate(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -from %q, want dd-mm-yyyy\n", *from)
		os.Exit(2)
	}

	cfg, env, err := bootstrap.Init(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *interval == "" {
		*interval = cfg.Historical.Interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, *symbol, start, *interval, *output); err != nil {
		logger.ErrorWithErr(ctx, "History export failed", err, "symbol", *symbol)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *store.Config, env *store.Env, symbol string, start time.Time, interval, output string) error {
	app, err := bootstrap.New(ctx, cfg, env)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(shutdownCtx)
	}()

	tokens, err := app.Broker.ResolveTokens(ctx, cfg.Exchange, []string{symbol})
	if err != nil {
		return err
	}

	bars, err := historical.NewFetcher(app.Broker, cfg).Fetch(ctx, tokens[symbol], start, interval)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := historical.WriteCSV(w, interval, bars); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	logger.Info(ctx, "History exported", "symbol", symbol, "bars", len(bars), "interval", interval, "output", output)
	return nil
}
