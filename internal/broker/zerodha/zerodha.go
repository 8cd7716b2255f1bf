package zerodha

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// ErrUnknownSymbol means a symbol is missing from the exchange catalog.
var ErrUnknownSymbol = errors.New("symbol not found in instrument catalog")

// VarietyBracket is Kite's bracket-order variety.
const VarietyBracket = "bo"

var exchangeMap = map[string]string{
	"NSE": kiteconnect.ExchangeNSE,
	"BSE": kiteconnect.ExchangeBSE,
}

var transactionTypeMap = map[string]string{
	"buy":  kiteconnect.TransactionTypeBuy,
	"sell": kiteconnect.TransactionTypeSell,
}

// kiteAPI is the slice of *kiteconnect.Client the adapter calls.
type kiteAPI interface {
	SetAccessToken(accessToken string)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
	GetOrders() (kiteconnect.Orders, error)
	GetPositions() (kiteconnect.Positions, error)
	GetHoldings() (kiteconnect.Holdings, error)
}

// Client is the authenticated Kite REST adapter. Every call first asks the
// session source for a valid token, so an expired session is never used.
type Client struct {
	kc       kiteAPI
	sessions interfaces.SessionSource

	// kc carries the token as client state; serialize set+call.
	mu sync.Mutex
}

var _ interfaces.Broker = (*Client)(nil)

func NewClient(apiKey string, sessions interfaces.SessionSource) *Client {
	return &Client{kc: kiteconnect.New(apiKey), sessions: sessions}
}

func (c *Client) authed(ctx context.Context) (func(), error) {
	s, err := c.sessions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain session: %w", err)
	}
	c.mu.Lock()
	c.kc.SetAccessToken(s.AccessToken)
	return c.mu.Unlock, nil
}

// ResolveTokens maps every symbol to its instrument token using one catalog
// snapshot for the exchange. Any unknown symbol fails the whole call.
func (c *Client) ResolveTokens(ctx context.Context, exchange string, symbols []string) (map[string]uint32, error) {
	unlock, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := c.kc.GetInstrumentsByExchange(exchange)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s instruments: %w", exchange, err)
	}

	table := newSymbolTable(len(catalog))
	for _, inst := range catalog {
		table.add(inst.Tradingsymbol, uint32(inst.InstrumentToken))
	}

	tokens := make(map[string]uint32, len(symbols))
	var missing []string
	for _, sym := range symbols {
		tok, ok := table.token(sym)
		if !ok {
			missing = append(missing, sym)
			continue
		}
		tokens[sym] = tok
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownSymbol, strings.Join(missing, ","), exchange)
	}
	return tokens, nil
}

func (c *Client) HistoricalBars(ctx context.Context, token uint32, interval string, from, to time.Time) ([]types.Bar, error) {
	unlock, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	data, err := c.kc.GetHistoricalData(int(token), interval, from, to, false, false)
	unlock()
	if err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(data))
	for _, d := range data {
		bars = append(bars, types.Bar{
			Time:   d.Date.Time,
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: int64(d.Volume),
		})
	}
	return bars, nil
}

// PlaceOrder places an intraday (MIS) order: a market order, or a limit
// bracket order with target, stoploss and trailing stoploss legs.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderReq, bracket bool) (types.OrderResp, error) {
	params, variety, err := orderParams(req, bracket)
	if err != nil {
		return types.OrderResp{}, err
	}

	unlock, err := c.authed(ctx)
	if err != nil {
		return types.OrderResp{}, err
	}
	resp, err := c.kc.PlaceOrder(variety, params)
	unlock()
	if err != nil {
		return types.OrderResp{}, err
	}

	return types.OrderResp{OrderID: resp.OrderID, Status: "PLACED", Message: variety}, nil
}

func orderParams(req types.OrderReq, bracket bool) (kiteconnect.OrderParams, string, error) {
	side, ok := transactionTypeMap[strings.ToLower(req.Side)]
	if !ok {
		return kiteconnect.OrderParams{}, "", fmt.Errorf("invalid side %q, want buy or sell", req.Side)
	}
	exchange := req.Exchange
	if exchange == "" {
		exchange = "NSE"
	}
	exch, ok := exchangeMap[strings.ToUpper(exchange)]
	if !ok {
		return kiteconnect.OrderParams{}, "", fmt.Errorf("invalid exchange %q, want NSE or BSE", req.Exchange)
	}
	if req.Qty <= 0 {
		return kiteconnect.OrderParams{}, "", fmt.Errorf("invalid quantity %d", req.Qty)
	}

	p := kiteconnect.OrderParams{
		Exchange:        exch,
		Tradingsymbol:   req.Symbol,
		TransactionType: side,
		Quantity:        req.Qty,
		Product:         kiteconnect.ProductMIS,
		OrderType:       kiteconnect.OrderTypeMarket,
		Tag:             req.Tag,
	}
	if !bracket {
		return p, kiteconnect.VarietyRegular, nil
	}

	if req.Price <= 0 || req.Target <= 0 || req.StopLoss <= 0 {
		return kiteconnect.OrderParams{}, "", errors.New("bracket order needs price, target and stoploss")
	}
	p.OrderType = kiteconnect.OrderTypeLimit
	p.Price = req.Price
	p.Squareoff = req.Target
	p.Stoploss = req.StopLoss
	p.TrailingStoploss = req.TrailingStopLoss
	return p, VarietyBracket, nil
}

func (c *Client) CancelOrder(ctx context.Context, variety, orderID string) (types.OrderResp, error) {
	if variety == "" {
		variety = kiteconnect.VarietyRegular
	}
	unlock, err := c.authed(ctx)
	if err != nil {
		return types.OrderResp{}, err
	}
	resp, err := c.kc.CancelOrder(variety, orderID, nil)
	unlock()
	if err != nil {
		return types.OrderResp{}, err
	}
	return types.OrderResp{OrderID: resp.OrderID, Status: "CANCELLED"}, nil
}

func (c *Client) Orders(ctx context.Context) ([]types.Order, error) {
	unlock, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := c.kc.GetOrders()
	unlock()
	if err != nil {
		return nil, err
	}

	out := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.Order{
			OrderID:         o.OrderID,
			Status:          o.Status,
			Symbol:          o.TradingSymbol,
			Exchange:        o.Exchange,
			TransactionType: o.TransactionType,
			OrderType:       o.OrderType,
			Product:         o.Product,
			Quantity:        o.Quantity,
			FilledQuantity:  o.FilledQuantity,
			Price:           o.Price,
			AveragePrice:    o.AveragePrice,
			PlacedAt:        o.OrderTimestamp.Time,
		})
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context) (types.Positions, error) {
	unlock, err := c.authed(ctx)
	if err != nil {
		return types.Positions{}, err
	}
	pos, err := c.kc.GetPositions()
	unlock()
	if err != nil {
		return types.Positions{}, err
	}
	return types.Positions{Net: convertPositions(pos.Net), Day: convertPositions(pos.Day)}, nil
}

func convertPositions(in []kiteconnect.Position) []types.Position {
	out := make([]types.Position, 0, len(in))
	for _, p := range in {
		out = append(out, types.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     p.Exchange,
			Product:      p.Product,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
		})
	}
	return out
}

func (c *Client) Holdings(ctx context.Context) ([]types.Holding, error) {
	unlock, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := c.kc.GetHoldings()
	unlock()
	if err != nil {
		return nil, err
	}

	out := make([]types.Holding, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, types.Holding{
			Symbol:       h.Tradingsymbol,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
			PnL:          h.PnL,
		})
	}
	return out, nil
}
