package brokerobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokite/internal/retry"
	"autokite/internal/types"
)

type flakyBroker struct {
	fails int
	calls map[string]int
}

func (b *flakyBroker) fail(name string) error {
	b.calls[name]++
	if b.fails > 0 {
		b.fails--
		return errors.New("502 bad gateway")
	}
	return nil
}

func (b *flakyBroker) ResolveTokens(context.Context, string, []string) (map[string]uint32, error) {
	if err := b.fail("resolve"); err != nil {
		return nil, err
	}
	return map[string]uint32{"TCS": 2953217}, nil
}

func (b *flakyBroker) HistoricalBars(context.Context, uint32, string, time.Time, time.Time) ([]types.Bar, error) {
	return nil, b.fail("historical")
}

func (b *flakyBroker) PlaceOrder(context.Context, types.OrderReq, bool) (types.OrderResp, error) {
	if err := b.fail("place"); err != nil {
		return types.OrderResp{}, err
	}
	return types.OrderResp{OrderID: "1"}, nil
}

func (b *flakyBroker) CancelOrder(context.Context, string, string) (types.OrderResp, error) {
	return types.OrderResp{}, b.fail("cancel")
}

func (b *flakyBroker) Orders(context.Context) ([]types.Order, error) {
	return []types.Order{{OrderID: "1"}}, b.fail("orders")
}

func (b *flakyBroker) Positions(context.Context) (types.Positions, error) {
	return types.Positions{}, b.fail("positions")
}

func (b *flakyBroker) Holdings(context.Context) ([]types.Holding, error) {
	return nil, b.fail("holdings")
}

func policies() Policies {
	noSleep := func(context.Context, time.Duration) error { return nil }
	return Policies{
		Instruments: retry.New(3, 10*time.Second).WithSleeper(noSleep),
		Portfolio:   retry.New(3, 5*time.Second).WithSleeper(noSleep),
	}
}

func TestWrap_RetriesIdempotentCalls(t *testing.T) {
	testCases := []struct {
		name string
		call func(b *flakyBroker) error
		key  string
	}{
		{name: "resolve", key: "resolve", call: func(b *flakyBroker) error {
			_, err := Wrap(b, policies()).ResolveTokens(context.Background(), "NSE", []string{"TCS"})
			return err
		}},
		{name: "orders", key: "orders", call: func(b *flakyBroker) error {
			_, err := Wrap(b, policies()).Orders(context.Background())
			return err
		}},
		{name: "positions", key: "positions", call: func(b *flakyBroker) error {
			_, err := Wrap(b, policies()).Positions(context.Background())
			return err
		}},
		{name: "holdings", key: "holdings", call: func(b *flakyBroker) error {
			_, err := Wrap(b, policies()).Holdings(context.Background())
			return err
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &flakyBroker{fails: 2, calls: map[string]int{}}
			require.NoError(t, tc.call(b))
			assert.Equal(t, 3, b.calls[tc.key])
		})
	}
}

func TestWrap_NeverRetriesOrders(t *testing.T) {
	b := &flakyBroker{fails: 1, calls: map[string]int{}}
	brk := Wrap(b, policies())

	_, err := brk.PlaceOrder(context.Background(), types.OrderReq{Symbol: "TCS", Side: "buy", Qty: 1}, false)
	assert.Error(t, err)
	assert.Equal(t, 1, b.calls["place"])

	b.fails = 1
	_, err = brk.CancelOrder(context.Background(), "regular", "1")
	assert.Error(t, err)
	assert.Equal(t, 1, b.calls["cancel"])
}

func TestWrap_HistoricalNotRetried(t *testing.T) {
	b := &flakyBroker{fails: 1, calls: map[string]int{}}

	_, err := Wrap(b, policies()).HistoricalBars(context.Background(), 1, "day", time.Now(), time.Now())
	assert.Error(t, err)
	assert.Equal(t, 1, b.calls["historical"])
}
