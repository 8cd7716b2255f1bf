package zerodha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/store"
	"autokite/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
)

// Upper bound on ticks coalesced into one dispatched batch.
const maxBatchTicks = 512

// tickerConn is the slice of *kiteticker.Ticker the feed drives.
type tickerConn interface {
	OnConnect(f func())
	OnError(f func(err error))
	OnClose(f func(code int, reason string))
	OnReconnect(f func(attempt int, delay time.Duration))
	OnNoReconnect(f func(attempt int))
	OnTick(f func(tick models.Tick))
	OnOrderUpdate(f func(order kiteconnect.Order))
	Subscribe(tokens []uint32) error
	SetMode(mode kiteticker.Mode, tokens []uint32) error
	ServeWithContext(ctx context.Context)
	Stop()
}

// FeedConnector opens Kite websocket connections for the stream engine.
type FeedConnector struct {
	apiKey         string
	symbols        map[string]uint32
	connectTimeout time.Duration
	bufferSize     int

	newTicker func(apiKey, accessToken string) tickerConn
	now       func() time.Time
}

var _ interfaces.FeedConnector = (*FeedConnector)(nil)

// NewFeedConnector creates a connector; symbols is the resolved symbol table
// used to label tokens in logs.
func NewFeedConnector(apiKey string, symbols map[string]uint32, cfg *store.Config) *FeedConnector {
	return &FeedConnector{
		apiKey:         apiKey,
		symbols:        symbols,
		connectTimeout: cfg.Stream.ConnectTimeout,
		bufferSize:     cfg.Stream.BatchBuffer,
		newTicker: func(apiKey, accessToken string) tickerConn {
			return kiteticker.New(apiKey, accessToken)
		},
		now: time.Now,
	}
}

// Connect dials the ticker and blocks until every token is subscribed in
// full mode, the connection fails, or the connect timeout passes.
func (c *FeedConnector) Connect(ctx context.Context, session types.Session, tokens []uint32) (interfaces.TickFeed, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no instrument tokens to subscribe")
	}

	labels := newSymbolTable(len(c.symbols))
	for sym, tok := range c.symbols {
		labels.add(sym, tok)
	}
	subs := newSymbolTable(len(tokens))
	for _, tok := range tokens {
		subs.add(labels.label(tok), tok)
	}

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tm := &tickerManager{
		ticker:     c.newTicker(c.apiKey, session.AccessToken),
		symbols:    subs,
		now:        c.now,
		raw:        make(chan types.Tick, c.bufferSize),
		out:        make(chan []types.Tick, c.bufferSize),
		errs:       make(chan error, 8),
		subscribed: make(chan error, 1),
		served:     make(chan struct{}),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	tm.setupEventHandlers()

	go func() {
		defer close(tm.served)
		logger.Info(ctx, "Starting Kite ticker", "instruments", len(tokens))
		tm.ticker.ServeWithContext(feedCtx)
	}()
	go tm.pump()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case err := <-tm.subscribed:
		if err != nil {
			_ = tm.Close()
			return nil, err
		}
		return tm, nil
	case <-tm.served:
		// A short-lived connection may subscribe and end before we look.
		select {
		case err := <-tm.subscribed:
			if err == nil {
				return tm, nil
			}
		default:
		}
		_ = tm.Close()
		return nil, errors.New("ticker connection ended before subscribing")
	case <-timer.C:
		_ = tm.Close()
		return nil, fmt.Errorf("ticker did not connect within %s", c.connectTimeout)
	case <-ctx.Done():
		_ = tm.Close()
		return nil, ctx.Err()
	}
}

// tickerManager is one live connection. Ticks arrive one callback at a time
// and are coalesced into batches for the consumer.
type tickerManager struct {
	ticker  tickerConn
	symbols *symbolTable
	now     func() time.Time

	raw        chan types.Tick
	out        chan []types.Tick
	errs       chan error
	subscribed chan error
	served     chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc

	connects  int
	closeOnce sync.Once
}

var _ interfaces.TickFeed = (*tickerManager)(nil)

func (tm *tickerManager) Batches() <-chan []types.Tick { return tm.out }

func (tm *tickerManager) Errors() <-chan error { return tm.errs }

func (tm *tickerManager) Close() error {
	tm.closeOnce.Do(func() {
		close(tm.done)
		tm.cancel()
		tm.ticker.Stop()
	})
	<-tm.served
	return nil
}

// subscribe subscribes and switches every token to full mode as one step.
func (tm *tickerManager) subscribe() error {
	tokens := tm.symbols.tokens()
	if err := tm.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe to instruments: %w", err)
	}
	if err := tm.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return fmt.Errorf("failed to set ticker mode: %w", err)
	}
	return nil
}

// pump turns single ticks into batches. Batches is closed only after the
// socket has stopped and every tick onTick accepted has been handed on, so a
// consumer that keeps reading after Close sees the whole session.
func (tm *tickerManager) pump() {
	defer close(tm.out)

	for {
		select {
		case tick := <-tm.raw:
			tm.emit(tm.collect(tick))
		case <-tm.done:
			<-tm.served
			tm.drain()
			return
		case <-tm.served:
			tm.drain()
			return
		}
	}
}

// drain emits whatever is left in raw once no more ticks can arrive.
func (tm *tickerManager) drain() {
	for {
		select {
		case tick := <-tm.raw:
			tm.emit(tm.collect(tick))
		default:
			return
		}
	}
}

func (tm *tickerManager) collect(first types.Tick) []types.Tick {
	batch := []types.Tick{first}
	for len(batch) < maxBatchTicks {
		select {
		case tick := <-tm.raw:
			batch = append(batch, tick)
		default:
			return batch
		}
	}
	return batch
}

// emit blocks until the consumer takes the batch. Consumers must read
// Batches until it closes, including after Close.
func (tm *tickerManager) emit(batch []types.Tick) {
	tm.out <- batch
}

func (tm *tickerManager) reportErr(err error) {
	select {
	case tm.errs <- err:
	default:
	}
}
