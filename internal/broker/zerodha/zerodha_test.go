package zerodha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"autokite/internal/types"
)

type mockKite struct {
	mock.Mock
	token string
}

func (m *mockKite) SetAccessToken(accessToken string) { m.token = accessToken }

func (m *mockKite) GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error) {
	args := m.Called(exchange)
	return args.Get(0).(kiteconnect.Instruments), args.Error(1)
}

func (m *mockKite) GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error) {
	args := m.Called(instrumentToken, interval, fromDate, toDate)
	return args.Get(0).([]kiteconnect.HistoricalData), args.Error(1)
}

func (m *mockKite) PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	args := m.Called(variety, orderParams)
	return args.Get(0).(kiteconnect.OrderResponse), args.Error(1)
}

func (m *mockKite) CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error) {
	args := m.Called(variety, orderID)
	return args.Get(0).(kiteconnect.OrderResponse), args.Error(1)
}

func (m *mockKite) GetOrders() (kiteconnect.Orders, error) {
	args := m.Called()
	return args.Get(0).(kiteconnect.Orders), args.Error(1)
}

func (m *mockKite) GetPositions() (kiteconnect.Positions, error) {
	args := m.Called()
	return args.Get(0).(kiteconnect.Positions), args.Error(1)
}

func (m *mockKite) GetHoldings() (kiteconnect.Holdings, error) {
	args := m.Called()
	return args.Get(0).(kiteconnect.Holdings), args.Error(1)
}

type staticSessions struct {
	s   types.Session
	err error
}

func (s staticSessions) Current(context.Context) (types.Session, error) { return s.s, s.err }

func newTestClient(kc *mockKite) *Client {
	return &Client{kc: kc, sessions: staticSessions{s: types.Session{AccessToken: "access"}}}
}

func TestResolveTokens(t *testing.T) {
	kc := &mockKite{}
	kc.On("GetInstrumentsByExchange", "NSE").Return(kiteconnect.Instruments{
		{InstrumentToken: 408065, Tradingsymbol: "INFY"},
		{InstrumentToken: 738561, Tradingsymbol: "RELIANCE"},
		{InstrumentToken: 2953217, Tradingsymbol: "TCS"},
	}, nil)
	c := newTestClient(kc)

	tokens, err := c.ResolveTokens(context.Background(), "NSE", []string{"TCS", "INFY"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"TCS": 2953217, "INFY": 408065}, tokens)
	assert.Equal(t, "access", kc.token)
	kc.AssertNumberOfCalls(t, "GetInstrumentsByExchange", 1)

	_, err = c.ResolveTokens(context.Background(), "NSE", []string{"TCS", "NOPE", "ALSO"})
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.Contains(t, err.Error(), "ALSO,NOPE")
}

func TestResolveTokens_SessionError(t *testing.T) {
	kc := &mockKite{}
	c := &Client{kc: kc, sessions: staticSessions{err: errors.New("login failed")}}

	_, err := c.ResolveTokens(context.Background(), "NSE", []string{"TCS"})
	assert.Error(t, err)
	kc.AssertNotCalled(t, "GetInstrumentsByExchange", mock.Anything)
}

func TestHistoricalBars(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, types.IST)
	to := time.Date(2026, 4, 11, 23, 59, 59, 0, types.IST)
	d1 := time.Date(2026, 1, 1, 0, 0, 0, 0, types.IST)

	kc := &mockKite{}
	kc.On("GetHistoricalData", 408065, "day", from, to).Return([]kiteconnect.HistoricalData{
		{Date: models.Time{Time: d1}, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1500},
	}, nil)

	bars, err := newTestClient(kc).HistoricalBars(context.Background(), 408065, "day", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, types.Bar{Time: d1, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1500}, bars[0])
}

func TestPlaceOrder_Market(t *testing.T) {
	kc := &mockKite{}
	kc.On("PlaceOrder", kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        kiteconnect.ExchangeBSE,
		Tradingsymbol:   "TCS",
		TransactionType: kiteconnect.TransactionTypeSell,
		Quantity:        5,
		Product:         kiteconnect.ProductMIS,
		OrderType:       kiteconnect.OrderTypeMarket,
	}).Return(kiteconnect.OrderResponse{OrderID: "230101000000001"}, nil)

	resp, err := newTestClient(kc).PlaceOrder(context.Background(), types.OrderReq{
		Symbol: "TCS", Exchange: "BSE", Side: "sell", Qty: 5,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "230101000000001", resp.OrderID)
	kc.AssertExpectations(t)
}

func TestPlaceOrder_Bracket(t *testing.T) {
	kc := &mockKite{}
	kc.On("PlaceOrder", VarietyBracket, mock.MatchedBy(func(p kiteconnect.OrderParams) bool {
		return p.OrderType == kiteconnect.OrderTypeLimit &&
			p.Exchange == kiteconnect.ExchangeNSE &&
			p.TransactionType == kiteconnect.TransactionTypeBuy &&
			p.Price == 1500 && p.Squareoff == 20 && p.Stoploss == 10 && p.TrailingStoploss == 2
	})).Return(kiteconnect.OrderResponse{OrderID: "42"}, nil)

	resp, err := newTestClient(kc).PlaceOrder(context.Background(), types.OrderReq{
		Symbol: "INFY", Side: "buy", Qty: 1, Price: 1500, Target: 20, StopLoss: 10, TrailingStopLoss: 2,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "42", resp.OrderID)
	kc.AssertExpectations(t)
}

func TestPlaceOrder_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		req     types.OrderReq
		bracket bool
	}{
		{name: "bad side", req: types.OrderReq{Symbol: "TCS", Side: "hold", Qty: 1}},
		{name: "bad exchange", req: types.OrderReq{Symbol: "TCS", Side: "buy", Exchange: "MCX", Qty: 1}},
		{name: "zero qty", req: types.OrderReq{Symbol: "TCS", Side: "buy"}},
		{name: "bracket without legs", req: types.OrderReq{Symbol: "TCS", Side: "buy", Qty: 1, Price: 10}, bracket: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kc := &mockKite{}
			_, err := newTestClient(kc).PlaceOrder(context.Background(), tc.req, tc.bracket)
			assert.Error(t, err)
			kc.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestCancelOrder_DefaultsToRegular(t *testing.T) {
	kc := &mockKite{}
	kc.On("CancelOrder", kiteconnect.VarietyRegular, "99").Return(kiteconnect.OrderResponse{OrderID: "99"}, nil)

	resp, err := newTestClient(kc).CancelOrder(context.Background(), "", "99")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", resp.Status)
}

func TestPortfolio(t *testing.T) {
	kc := &mockKite{}
	kc.On("GetOrders").Return(kiteconnect.Orders{{OrderID: "1", Status: "COMPLETE", TradingSymbol: "TCS", Quantity: 2}}, nil)
	kc.On("GetPositions").Return(kiteconnect.Positions{
		Net: []kiteconnect.Position{{Tradingsymbol: "TCS", Quantity: 2, PnL: 12.5}},
	}, nil)
	kc.On("GetHoldings").Return(kiteconnect.Holdings{{Tradingsymbol: "INFY", Quantity: 10}}, nil)
	c := newTestClient(kc)

	orders, err := c.Orders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TCS", orders[0].Symbol)
	assert.Equal(t, float64(2), orders[0].Quantity)

	pos, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos.Net, 1)
	assert.Empty(t, pos.Day)
	assert.Equal(t, 12.5, pos.Net[0].PnL)

	holdings, err := c.Holdings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, holdings[0].Quantity)
}

type fakeAuthAPI struct {
	session kiteconnect.UserSession
	err     error
	got     [2]string
}

func (f *fakeAuthAPI) GetLoginURL() string { return "https://kite.zerodha.com/connect/login?api_key=k&v=3" }

func (f *fakeAuthAPI) GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error) {
	f.got = [2]string{requestToken, apiSecret}
	return f.session, f.err
}

func TestAuthenticator_Exchange(t *testing.T) {
	us := kiteconnect.UserSession{}
	us.AccessToken = "access"
	api := &fakeAuthAPI{session: us}
	a := &Authenticator{kc: api, apiSecret: "secret"}

	s, err := a.Exchange(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "access", s.AccessToken)
	assert.True(t, s.Expiry.IsZero())
	assert.Equal(t, [2]string{"rt", "secret"}, api.got)
	assert.Contains(t, a.LoginURL(), "api_key=k")

	_, err = (&Authenticator{kc: &fakeAuthAPI{}, apiSecret: "secret"}).Exchange(context.Background(), "rt")
	assert.Error(t, err, "empty access token")
}
