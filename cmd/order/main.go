package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"autokite/internal/bootstrap"
	"autokite/internal/broker/zerodha"
	"autokite/internal/logger"
	"autokite/internal/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "trading symbol")
	side := flag.String("side", "", "buy or sell")
	qty := flag.Int("qty", 0, "quantity")
	exchange := flag.String("exchange", "", "NSE or BSE; defaults to the configured exchange")
	bracket := flag.Bool("bracket", false, "place a bracket order instead of a market order")
	price := flag.Float64("price", 0, "limit price of a bracket order")
	target := flag.Float64("target", 0, "bracket target, in points from price")
	stoploss := flag.Float64("stoploss", 0, "bracket stoploss, in points from price")
	trailing := flag.Float64("trailing", 0, "bracket trailing stoploss, in points")
	cancelID := flag.String("cancel", "", "cancel this order id instead of placing one")
	variety := flag.String("variety", kiteconnect.VarietyRegular, "variety of the order to cancel")
	flag.Parse()

	if *cancelID == "" && (*symbol == "" || *side == "" || *qty <= 0) {
		fmt.Fprintln(os.Stderr, "Error: -symbol, -side and -qty are required to place an order")
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

	if *cancelID != "" {
		resp, err := app.Broker.CancelOrder(ctx, *variety, *cancelID)
		if err != nil {
			logger.ErrorWithErr(ctx, "Cancel failed", err, "order_id", *cancelID)
			os.Exit(1)
		}
		fmt.Printf("Cancelled %s\n", resp.OrderID)
		return
	}

	if *exchange == "" {
		*exchange = cfg.Exchange
	}
	req := types.OrderReq{
		Symbol:           *symbol,
		Exchange:         *exchange,
		Side:             *side,
		Qty:              *qty,
		Price:            *price,
		Target:           *target,
		StopLoss:         *stoploss,
		TrailingStopLoss: *trailing,
		Tag:              "autokite",
	}
	v := kiteconnect.VarietyRegular
	if *bracket {
		v = zerodha.VarietyBracket
	}

	app.CompressJournal(ctx)
	resp, err := app.Broker.PlaceOrder(ctx, req, *bracket)
	if jerr := app.Journal.AppendOrder(req, v, resp, err); jerr != nil {
		logger.Warn(ctx, "Failed to journal order", "error", jerr, "symbol", req.Symbol)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Order failed", err, "symbol", req.Symbol, "side", req.Side)
		os.Exit(1)
	}
	fmt.Printf("Placed %s order %s\n", v, resp.OrderID)
}
