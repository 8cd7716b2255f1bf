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
	"autokite/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	reuse := flag.Bool("reuse", false, "keep a cached session that is still valid instead of logging in again")
	flag.Parse()

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

	get := app.Sessions.Refresh
	if *reuse {
		get = app.Sessions.Current
	}
	s, err := get(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Login failed", err)
		os.Exit(1)
	}

	fmt.Printf("Logged in as %s, session valid until %s\n",
		s.UserID, s.Expiry.Format("2006-01-02 15:04 MST"))
}
