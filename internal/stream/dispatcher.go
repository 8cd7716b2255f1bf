package stream

import (
	"context"
	"errors"
	"fmt"

	"autokite/internal/eod"
	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/metrics"
	"autokite/internal/tickstore"
	"autokite/internal/types"
)

// ErrStorageUnavailable means the sink kept failing for reasons other than
// duplicate keys and ingestion cannot make progress.
var ErrStorageUnavailable = errors.New("tick storage unavailable")

// Dispatcher routes every tick of a batch to the sink in arrival order.
// It is driven by a single goroutine and holds no locks.
type Dispatcher struct {
	sink   interfaces.TickSink
	mirror *Mirror
	report *eod.Report

	maxConsecutiveFailures int
	consecutiveFailures    int
	lastErr                error
}

// NewDispatcher wires a dispatcher. mirror and report may be nil.
func NewDispatcher(sink interfaces.TickSink, mirror *Mirror, report *eod.Report, maxConsecutiveFailures int) *Dispatcher {
	if maxConsecutiveFailures < 1 {
		maxConsecutiveFailures = 1
	}
	return &Dispatcher{
		sink:                   sink,
		mirror:                 mirror,
		report:                 report,
		maxConsecutiveFailures: maxConsecutiveFailures,
	}
}

// Dispatch appends the batch tick by tick. Duplicate timestamps are counted
// and skipped. Ticks for instruments the sink was never prepared for are
// logged and skipped. Any other append failure is logged and counted; once
// the sink has failed maxConsecutiveFailures times in a row Dispatch returns
// ErrStorageUnavailable. The batch is always processed to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []types.Tick) error {
	metrics.RecordBatch(len(batch))

	stored := make([]types.Tick, 0, len(batch))
	for _, tick := range batch {
		outcome, err := d.sink.Append(ctx, tick)
		d.record(tick, outcome)

		switch {
		case err == nil && outcome == types.OutcomeDuplicate:
			logger.Debug(ctx, "Duplicate tick skipped",
				"instrument_token", tick.InstrumentToken,
				"timestamp", tick.Timestamp,
			)
		case err == nil:
			d.consecutiveFailures = 0
			stored = append(stored, tick)
		case errors.Is(err, tickstore.ErrUnknownInstrument):
			logger.Warn(ctx, "Tick for unprepared instrument skipped",
				"instrument_token", tick.InstrumentToken,
			)
		default:
			d.consecutiveFailures++
			d.lastErr = err
			logger.ErrorWithErr(ctx, "Failed to store tick", err,
				"instrument_token", tick.InstrumentToken,
				"timestamp", tick.Timestamp,
				"consecutive_failures", d.consecutiveFailures,
			)
		}
	}

	if d.mirror != nil && len(stored) > 0 {
		d.mirror.Offer(stored)
	}

	if d.consecutiveFailures >= d.maxConsecutiveFailures {
		return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrStorageUnavailable, d.consecutiveFailures, d.lastErr)
	}
	return nil
}

func (d *Dispatcher) record(tick types.Tick, outcome types.AppendOutcome) {
	metrics.RecordTick(tick.InstrumentToken, outcome, tick.LastPrice)
	if d.report != nil {
		d.report.Record(tick, outcome)
	}
}
