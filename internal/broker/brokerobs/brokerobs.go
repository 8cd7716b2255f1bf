package brokerobs

import (
	"context"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/metrics"
	"autokite/internal/retry"
	"autokite/internal/trace"
	"autokite/internal/types"
)

// Policies are the retry policies for the idempotent broker calls. Orders
// are never retried.
type Policies struct {
	Instruments retry.Policy
	Portfolio   retry.Policy
}

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker   interfaces.Broker
	policies Policies
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability and retry middleware
func Wrap(broker interfaces.Broker, policies Policies) interfaces.Broker {
	return &observableBroker{
		broker:   broker,
		policies: policies,
	}
}

// ResolveTokens resolves instrument tokens with observability
func (ob *observableBroker) ResolveTokens(ctx context.Context, exchange string, symbols []string) (map[string]uint32, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ResolveTokens")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Resolving instrument tokens", "exchange", exchange, "symbols", symbols)

	start := time.Now()
	tokens, err := retry.Do(ctx, ob.policies.Instruments, "broker.ResolveTokens", func(ctx context.Context) (map[string]uint32, error) {
		return ob.broker.ResolveTokens(ctx, exchange, symbols)
	})
	metrics.ObserveBroker("resolve_tokens", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to resolve instrument tokens", err, "exchange", exchange)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Instrument tokens resolved", "exchange", exchange, "tokens", tokens)
	return tokens, nil
}

// HistoricalBars fetches one window of bars with observability. Retry is
// owned by the historical fetcher.
func (ob *observableBroker) HistoricalBars(ctx context.Context, token uint32, interval string, from, to time.Time) ([]types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "broker.HistoricalBars")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching historical bars",
		"instrument_token", token,
		"interval", interval,
		"from", from,
		"to", to,
	)

	start := time.Now()
	bars, err := ob.broker.HistoricalBars(ctx, token, interval, from, to)
	metrics.ObserveBroker("historical_bars", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch historical bars", err, "instrument_token", token)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Historical bars fetched", "instrument_token", token, "count", len(bars))
	return bars, nil
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq, bracket bool) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"exchange", req.Exchange,
		"side", req.Side,
		"qty", req.Qty,
		"bracket", bracket,
	)

	start := time.Now()
	resp, err := ob.broker.PlaceOrder(ctx, req, bracket)
	metrics.ObserveBroker("place_order", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.Order(ctx, req.Symbol, req.Side, req.Qty, resp.OrderID, "bracket", bracket)
	return resp, nil
}

// CancelOrder cancels an order with observability
func (ob *observableBroker) CancelOrder(ctx context.Context, variety, orderID string) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	start := time.Now()
	resp, err := ob.broker.CancelOrder(ctx, variety, orderID)
	metrics.ObserveBroker("cancel_order", start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID, "variety", variety)
		return types.OrderResp{}, err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled", "order_id", orderID, "variety", variety)
	return resp, nil
}

func (ob *observableBroker) Orders(ctx context.Context) ([]types.Order, error) {
	return portfolioCall(ctx, ob.policies.Portfolio, "orders", ob.broker.Orders)
}

func (ob *observableBroker) Positions(ctx context.Context) (types.Positions, error) {
	return portfolioCall(ctx, ob.policies.Portfolio, "positions", ob.broker.Positions)
}

func (ob *observableBroker) Holdings(ctx context.Context) ([]types.Holding, error) {
	return portfolioCall(ctx, ob.policies.Portfolio, "holdings", ob.broker.Holdings)
}

func portfolioCall[T any](ctx context.Context, policy retry.Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := trace.StartSpan(ctx, "broker."+name)
	defer span.End()

	start := time.Now()
	v, err := retry.Do(ctx, policy, "broker."+name, fn)
	metrics.ObserveBroker(name, start, err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "Failed to fetch portfolio", err, "call", name)
		return v, err
	}

	logger.InfoSkip(ctx, 2, "Portfolio fetched", "call", name)
	return v, nil
}
