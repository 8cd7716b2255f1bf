package zerodha

import (
	"context"
	"fmt"
	"time"

	"autokite/internal/logger"
	"autokite/internal/metrics"
	"autokite/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
)

func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

// onConnect (re)subscribes on every connect, including the library's own
// reconnects, so a reconnected socket never runs without subscriptions.
func (tm *tickerManager) onConnect() {
	tm.connects++
	err := tm.subscribe()

	if tm.connects == 1 {
		tm.subscribed <- err
	} else if err != nil {
		tm.reportErr(err)
	}

	if err != nil {
		logger.ErrorWithErr(context.Background(), "Ticker subscription failed", err)
		return
	}
	logger.Info(context.Background(), "Ticker subscribed",
		"instruments", len(tm.symbols.tokens()),
		"connects", tm.connects,
	)
}

// Socket errors go to Errors; the engine decides whether the feed is lost.
func (tm *tickerManager) onError(err error) {
	metrics.RecordFeedEvent("error")
	logger.ErrorWithErr(context.Background(), "Ticker socket error", err)
	tm.reportErr(err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	metrics.RecordFeedEvent("close")
	logger.Warn(context.Background(), "Ticker socket closed", "code", code, "reason", reason)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	metrics.RecordFeedEvent("reconnect")
	logger.Info(context.Background(), "Ticker redialing", "attempt", attempt, "backoff", delay)
}

// onNoReconnect ends the feed from the consumer's point of view.
func (tm *tickerManager) onNoReconnect(attempt int) {
	metrics.RecordFeedEvent("gave_up")
	logger.Warn(context.Background(), "Ticker stopped redialing", "attempts", attempt)
	tm.reportErr(fmt.Errorf("ticker gave up after %d reconnect attempts", attempt))
}

// onTick hands the tick to the batching pump. It blocks while the consumer
// is behind, which holds back the socket read loop.
func (tm *tickerManager) onTick(tick models.Tick) {
	if !tm.symbols.has(tick.InstrumentToken) {
		logger.Debug(context.Background(), "Dropping tick for unsubscribed instrument",
			"instrument_token", tick.InstrumentToken,
		)
		return
	}

	select {
	case tm.raw <- tm.convertTick(tick):
	case <-tm.done:
	}
}

// Postbacks arrive on the same socket; orders are journaled elsewhere.
func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order postback on ticker",
		"order_id", order.OrderID,
		"status", order.Status,
	)
}

// convertTick maps a full-mode tick. Ticks without an exchange timestamp
// are stamped with their arrival time.
func (tm *tickerManager) convertTick(tick models.Tick) types.Tick {
	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = tick.LastTradeTime.Time
	}
	if ts.IsZero() {
		ts = tm.now()
	}

	return types.Tick{
		InstrumentToken: tick.InstrumentToken,
		Timestamp:       ts,
		LastPrice:       tick.LastPrice,
		Volume:          int64(tick.VolumeTraded),
		LastQuantity:    int64(tick.LastTradedQuantity),
		AveragePrice:    tick.AverageTradePrice,
		BuyQuantity:     int64(tick.TotalBuyQuantity),
		SellQuantity:    int64(tick.TotalSellQuantity),
		OI:              int64(tick.OI),
		Open:            tick.OHLC.Open,
		High:            tick.OHLC.High,
		Low:             tick.OHLC.Low,
		Close:           tick.OHLC.Close,
	}
}
