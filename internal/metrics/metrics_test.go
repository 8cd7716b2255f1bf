package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"autokite/internal/types"
)

func TestRecordTick(t *testing.T) {
	before := testutil.ToFloat64(ticksTotal.WithLabelValues("11", "duplicate"))

	RecordTick(11, types.OutcomeStored, 101.5)
	RecordTick(11, types.OutcomeDuplicate, 99)

	assert.Equal(t, before+1, testutil.ToFloat64(ticksTotal.WithLabelValues("11", "duplicate")))
	assert.Equal(t, 101.5, testutil.ToFloat64(lastPrice.WithLabelValues("11")), "only stored ticks move the price")
}

func TestRecordConnectAndWindows(t *testing.T) {
	okBefore := testutil.ToFloat64(feedConnects.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(feedConnects.WithLabelValues("error"))
	barsBefore := testutil.ToFloat64(historicalBars)

	RecordConnect(nil)
	RecordConnect(errors.New("refused"))
	RecordHistoricalWindow(40, nil)
	RecordHistoricalWindow(10, errors.New("timeout"))
	SetGateState(2)
	ObserveBroker("Orders", time.Now(), nil)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(feedConnects.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(feedConnects.WithLabelValues("error")))
	assert.Equal(t, barsBefore+40, testutil.ToFloat64(historicalBars))
	assert.Equal(t, 2.0, testutil.ToFloat64(gateState))
}

func TestRecordFeedEvent(t *testing.T) {
	before := testutil.ToFloat64(feedEvents.WithLabelValues("reconnect"))

	RecordFeedEvent("reconnect")
	RecordFeedEvent("reconnect")

	assert.Equal(t, before+2, testutil.ToFloat64(feedEvents.WithLabelValues("reconnect")))
}

func TestRecordMirror(t *testing.T) {
	before := testutil.ToFloat64(mirrorTicks.WithLabelValues("dropped"))

	RecordMirror("dropped", 4)

	assert.Equal(t, before+4, testutil.ToFloat64(mirrorTicks.WithLabelValues("dropped")))
}
