// Package stream runs one trading day of live tick ingestion: it keeps a
// single feed connected while the market is open and persists every tick.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"autokite/internal/eod"
	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/market"
	"autokite/internal/metrics"
	"autokite/internal/retry"
	"autokite/internal/trace"
	"autokite/internal/types"
)

type Options struct {
	Gate      *market.Gate
	Sessions  interfaces.SessionSource
	Connector interfaces.FeedConnector
	Sink      interfaces.TickSink
	Publisher interfaces.TickPublisher // optional

	// Tokens maps each configured symbol to its resolved instrument token.
	Tokens map[string]uint32

	// MirrorQueue bounds the batches waiting for Publisher; MirrorTimeout
	// bounds each Publish call. Zero picks the defaults.
	MirrorQueue   int
	MirrorTimeout time.Duration

	PollInterval              time.Duration
	ConnectPolicy             retry.Policy
	MaxConsecutiveStoreErrors int

	// ReportDir receives eod/<date>.csv when the run ends; empty disables it.
	ReportDir string
}

type Engine struct {
	opts       Options
	tokens     []uint32
	report     *eod.Report
	mirror     *Mirror
	dispatcher *Dispatcher

	state     atomic.Int32
	connected atomic.Bool
}

// Status is a point-in-time view of a running engine, safe to read from any goroutine.
type Status struct {
	Market      string `json:"market"`
	Connected   bool   `json:"connected"`
	Instruments int    `json:"instruments"`
	Received    int    `json:"received"`
	Stored      int    `json:"stored"`
	Duplicate   int    `json:"duplicate"`
	Failed      int    `json:"failed"`
}

func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Gate == nil:
		return nil, errors.New("market gate is required")
	case opts.Sessions == nil:
		return nil, errors.New("session source is required")
	case opts.Connector == nil:
		return nil, errors.New("feed connector is required")
	case opts.Sink == nil:
		return nil, errors.New("tick sink is required")
	case len(opts.Tokens) == 0:
		return nil, errors.New("no instruments to stream")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	tokens := make([]uint32, 0, len(opts.Tokens))
	for _, tok := range opts.Tokens {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	e := &Engine{opts: opts, tokens: tokens, report: eod.NewReport(opts.Tokens)}
	if opts.Publisher != nil {
		e.mirror = NewMirror(opts.Publisher, opts.MirrorQueue, opts.MirrorTimeout)
	}
	e.dispatcher = NewDispatcher(opts.Sink, e.mirror, e.report, opts.MaxConsecutiveStoreErrors)
	return e, nil
}

// Report exposes the running ingestion counts.
func (e *Engine) Report() *eod.Report { return e.report }

func (e *Engine) Status() Status {
	received, stored, duplicate, failed := e.report.Totals()
	return Status{
		Market:      market.State(e.state.Load()).String(),
		Connected:   e.connected.Load(),
		Instruments: len(e.tokens),
		Received:    received,
		Stored:      stored,
		Duplicate:   duplicate,
		Failed:      failed,
	}
}

// Run prepares one series per instrument, then follows the market gate until
// it closes or ctx is cancelled. Both paths close the feed, flush what it had
// already delivered, and close the sink and publisher before returning.
// Cancellation is a clean stop and returns nil.
func (e *Engine) Run(ctx context.Context) (err error) {
	op := logger.StartOperation(ctx, "stream.Run", "instruments", len(e.tokens))
	ctx = op.Context()

	var feed interfaces.TickFeed
	defer func() {
		if serr := e.shutdown(ctx, feed); serr != nil && err == nil {
			err = serr
		}
		if err != nil {
			op.EndWithError(err)
			return
		}
		received, stored, duplicate, failed := e.report.Totals()
		op.End("received", received, "stored", stored, "duplicate", duplicate, "failed", failed)
	}()

	if err := e.opts.Sink.Prepare(ctx, e.tokens); err != nil {
		return fmt.Errorf("prepare tick series: %w", err)
	}

	poll := time.NewTicker(e.opts.PollInterval)
	defer poll.Stop()

	last := market.State(-1)
	for {
		state := e.opts.Gate.Poll()
		if state != last {
			metrics.SetGateState(int(state))
			e.state.Store(int32(state))
			logger.Info(ctx, "Market gate changed", "state", state.String())
			last = state
		}

		if state == market.Closed {
			logger.Info(ctx, "Market closed, stopping stream")
			return nil
		}
		if state == market.Open && feed == nil {
			feed, err = e.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			e.connected.Store(true)
		}

		var (
			batches <-chan []types.Tick
			errs    <-chan error
		)
		if feed != nil {
			batches, errs = feed.Batches(), feed.Errors()
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Shutdown requested, stopping stream")
			return nil
		case <-poll.C:
		case ferr := <-errs:
			logger.Warn(ctx, "Ticker reported an error", "error", ferr)
		case batch, ok := <-batches:
			if !ok {
				logger.Warn(ctx, "Ticker connection ended, reconnecting")
				_ = feed.Close()
				feed = nil
				e.connected.Store(false)
				continue
			}
			if err := e.dispatcher.Dispatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// connect opens a feed with a session that is valid right now, retrying the
// connection per the connect policy. Session acquisition has its own retries.
func (e *Engine) connect(ctx context.Context) (interfaces.TickFeed, error) {
	ctx, span := trace.StartSpan(ctx, "stream.Connect")
	defer span.End()

	return retry.Do(ctx, e.opts.ConnectPolicy, "stream.Connect", func(ctx context.Context) (interfaces.TickFeed, error) {
		s, err := e.opts.Sessions.Current(ctx)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("acquire session: %w", err))
		}
		feed, err := e.opts.Connector.Connect(ctx, s, e.tokens)
		metrics.RecordConnect(err)
		if err != nil {
			return nil, err
		}
		logger.Info(ctx, "Ticker connected", "session", s, "instruments", len(e.tokens))
		return feed, nil
	})
}

// shutdown runs on every exit path. Batches the feed already delivered are
// dispatched before the sink closes.
func (e *Engine) shutdown(ctx context.Context, feed interfaces.TickFeed) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error

	e.connected.Store(false)
	if feed != nil {
		if err := feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feed: %w", err))
		}
		flushed, dropped := 0, 0
		var flushErr error
		for batch := range feed.Batches() {
			if flushErr != nil {
				dropped += len(batch)
				continue
			}
			flushed += len(batch)
			flushErr = e.dispatcher.Dispatch(ctx, batch)
		}
		if flushErr != nil {
			errs = append(errs, flushErr)
		}
		if flushed > 0 {
			logger.Info(ctx, "Flushed buffered ticks", "count", flushed)
		}
		if dropped > 0 {
			logger.Warn(ctx, "Discarded buffered ticks after storage failure", "count", dropped)
		}
	}

	if e.mirror != nil {
		if err := e.mirror.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.opts.Sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}

	if e.opts.ReportDir != "" {
		path, err := e.report.WriteCSV(e.opts.ReportDir, e.opts.Gate.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("write eod report: %w", err))
		} else {
			logger.Info(ctx, "EOD ingestion report written", "csv_path", path)
		}
	}
	return errors.Join(errs...)
}
