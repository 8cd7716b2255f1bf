package interfaces

import (
	"context"
	"time"

	"autokite/internal/types"
)

// Broker is every authenticated call the module makes against the Kite REST API.
type Broker interface {
	ResolveTokens(ctx context.Context, exchange string, symbols []string) (map[string]uint32, error)
	HistoricalBars(ctx context.Context, token uint32, interval string, from, to time.Time) ([]types.Bar, error)
	PlaceOrder(ctx context.Context, req types.OrderReq, bracket bool) (types.OrderResp, error)
	CancelOrder(ctx context.Context, variety, orderID string) (types.OrderResp, error)
	Orders(ctx context.Context) ([]types.Order, error)
	Positions(ctx context.Context) (types.Positions, error)
	Holdings(ctx context.Context) ([]types.Holding, error)
}

// HistoricalSource is the single remote call the historical fetcher paginates over.
type HistoricalSource interface {
	HistoricalBars(ctx context.Context, token uint32, interval string, from, to time.Time) ([]types.Bar, error)
}
