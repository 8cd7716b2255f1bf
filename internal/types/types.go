package types

import (
	"log/slog"
	"time"
)

// IST is the exchange-local zone every market clock in this module is evaluated in.
var IST = time.FixedZone("IST", 19800)

// Session is a minted Kite access token and the window it can be used in.
type Session struct {
	AccessToken string
	UserID      string
	IssuedAt    time.Time
	Expiry      time.Time
}

// Valid reports whether the session can still be used at now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.Expiry)
}

// LogValue keeps the access token out of every log line.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", s.UserID),
		slog.Time("issued_at", s.IssuedAt),
		slog.Time("expiry", s.Expiry),
	)
}

// Bar is one OHLCV candle returned by the historical endpoint.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Tick is a single streaming quote for an instrument.
type Tick struct {
	InstrumentToken uint32
	Timestamp       time.Time
	LastPrice       float64
	Volume          int64
	LastQuantity    int64
	AveragePrice    float64
	BuyQuantity     int64
	SellQuantity    int64
	OI              int64
	Open            float64
	High            float64
	Low             float64
	Close           float64
}

// AppendOutcome classifies what happened to a single tick write.
type AppendOutcome int

const (
	OutcomeStored AppendOutcome = iota
	OutcomeDuplicate
	OutcomeFailed
)

func (o AppendOutcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Instrument maps a tradable symbol on an exchange to its instrument token.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Token    uint32 `json:"token"`
}

type OrderReq struct {
	Symbol   string
	Exchange string
	Side     string // buy or sell
	Qty      int
	Price    float64
	Tag      string

	// Bracket legs, in price points from Price.
	Target           float64
	StopLoss         float64
	TrailingStopLoss float64
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Order struct {
	OrderID         string    `json:"order_id"`
	Status          string    `json:"status"`
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	TransactionType string    `json:"transaction_type"`
	OrderType       string    `json:"order_type"`
	Product         string    `json:"product"`
	Quantity        float64   `json:"quantity"`
	FilledQuantity  float64   `json:"filled_quantity"`
	Price           float64   `json:"price"`
	AveragePrice    float64   `json:"average_price"`
	PlacedAt        time.Time `json:"placed_at"`
}

type Position struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Product      string  `json:"product"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
}

type Positions struct {
	Net []Position `json:"net"`
	Day []Position `json:"day"`
}

type Holding struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
}
