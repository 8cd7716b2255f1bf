// Package metrics holds the Prometheus collectors for ingestion and broker calls.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"autokite/internal/types"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokite_ticks_total",
			Help: "Ticks handled by the dispatcher by outcome",
		},
		[]string{"instrument", "outcome"},
	)
	lastPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autokite_last_price",
			Help: "Last traded price seen for an instrument",
		},
		[]string{"instrument"},
	)
	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autokite_tick_batch_size",
			Help:    "Ticks per dispatched batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	feedConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokite_feed_connects_total",
			Help: "Streaming connection attempts by result",
		},
		[]string{"result"},
	)
	feedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokite_feed_events_total",
			Help: "Ticker socket lifecycle events",
		},
		[]string{"event"},
	)
	mirrorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokite_mirror_ticks_total",
			Help: "Ticks handed to the tick mirror by result: ok, error or dropped",
		},
		[]string{"result"},
	)
	gateState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autokite_market_gate_state",
			Help: "Market gate state: 0 pre-open, 1 open, 2 closed",
		},
	)
	historicalWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokite_historical_windows_total",
			Help: "Historical windows fetched by result",
		},
		[]string{"result"},
	)
	historicalBars = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autokite_historical_bars_total",
			Help: "Historical bars accepted after seam de-duplication",
		},
	)
	brokerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autokite_broker_call_duration_seconds",
			Help:    "Duration of Kite REST calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)
)

func RecordTick(token uint32, outcome types.AppendOutcome, price float64) {
	label := strconv.FormatUint(uint64(token), 10)
	ticksTotal.WithLabelValues(label, outcome.String()).Inc()
	if outcome == types.OutcomeStored {
		lastPrice.WithLabelValues(label).Set(price)
	}
}

func RecordBatch(n int) {
	batchSize.Observe(float64(n))
}

func RecordConnect(err error) {
	feedConnects.WithLabelValues(result(err)).Inc()
}

// RecordFeedEvent counts a socket event such as "close" or "reconnect".
func RecordFeedEvent(event string) {
	feedEvents.WithLabelValues(event).Inc()
}

func RecordMirror(result string, ticks int) {
	mirrorTicks.WithLabelValues(result).Add(float64(ticks))
}

func SetGateState(s int) {
	gateState.Set(float64(s))
}

func RecordHistoricalWindow(bars int, err error) {
	historicalWindows.WithLabelValues(result(err)).Inc()
	if err == nil {
		historicalBars.Add(float64(bars))
	}
}

// ObserveBroker records the latency of a broker call started at start.
func ObserveBroker(operation string, start time.Time, err error) {
	brokerLatency.WithLabelValues(operation, result(err)).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
