package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/tickstore"
	"autokite/internal/types"
)

type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeFeed struct {
	batches chan []types.Tick
	errs    chan error
	once    sync.Once
	closed  bool
}

func newFakeFeed(batches ...[]types.Tick) *fakeFeed {
	f := &fakeFeed{
		batches: make(chan []types.Tick, len(batches)+4),
		errs:    make(chan error, 1),
	}
	for _, b := range batches {
		f.batches <- b
	}
	return f
}

// end simulates the connection dropping for good.
func (f *fakeFeed) end() { f.once.Do(func() { close(f.batches) }) }

func (f *fakeFeed) Batches() <-chan []types.Tick { return f.batches }
func (f *fakeFeed) Errors() <-chan error         { return f.errs }

func (f *fakeFeed) Close() error {
	f.closed = true
	f.end()
	return nil
}

type fakeConnector struct {
	feeds     []*fakeFeed
	err       error
	calls     int
	tokens    []uint32
	sessions  []types.Session
	connected []time.Time
	clock     *testClock
	onConnect func()
}

func (c *fakeConnector) Connect(_ context.Context, s types.Session, tokens []uint32) (interfaces.TickFeed, error) {
	c.calls++
	c.tokens = tokens
	c.sessions = append(c.sessions, s)
	if c.clock != nil {
		c.connected = append(c.connected, c.clock.Now())
	}
	if c.onConnect != nil {
		c.onConnect()
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.feeds) == 0 {
		return nil, errors.New("no more feeds")
	}
	f := c.feeds[0]
	c.feeds = c.feeds[1:]
	return f, nil
}

type fakeSessions struct {
	err   error
	calls int
}

func (s *fakeSessions) Current(context.Context) (types.Session, error) {
	s.calls++
	if s.err != nil {
		return types.Session{}, s.err
	}
	return types.Session{AccessToken: "at", UserID: "AB1234"}, nil
}

type fakeSink struct {
	prepared map[uint32]bool
	rows     map[uint32]map[time.Time]float64
	appended []types.Tick
	fail     map[uint32]bool
	failAll  bool
	onAppend func(n int)
	closed   bool

	prepareErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		prepared: map[uint32]bool{},
		rows:     map[uint32]map[time.Time]float64{},
		fail:     map[uint32]bool{},
	}
}

func (s *fakeSink) Prepare(_ context.Context, tokens []uint32) error {
	if s.prepareErr != nil {
		return s.prepareErr
	}
	for _, tok := range tokens {
		s.prepared[tok] = true
		if s.rows[tok] == nil {
			s.rows[tok] = map[time.Time]float64{}
		}
	}
	return nil
}

func (s *fakeSink) Append(_ context.Context, tick types.Tick) (out types.AppendOutcome, err error) {
	s.appended = append(s.appended, tick)
	defer func() {
		if s.onAppend != nil {
			s.onAppend(len(s.appended))
		}
	}()

	if !s.prepared[tick.InstrumentToken] {
		return types.OutcomeFailed, fmt.Errorf("%w: %d", tickstore.ErrUnknownInstrument, tick.InstrumentToken)
	}
	if s.failAll || s.fail[tick.InstrumentToken] {
		return types.OutcomeFailed, errors.New("connection refused")
	}
	if _, ok := s.rows[tick.InstrumentToken][tick.Timestamp]; ok {
		return types.OutcomeDuplicate, nil
	}
	s.rows[tick.InstrumentToken][tick.Timestamp] = tick.LastPrice
	return types.OutcomeStored, nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

// fakePublisher is called from the mirror goroutine. When block is set,
// Publish waits for it to close or for its context to end.
type fakePublisher struct {
	err   error
	block chan struct{}

	mu     sync.Mutex
	ticks  []types.Tick
	calls  int
	closed bool
}

func (p *fakePublisher) Publish(ctx context.Context, ticks []types.Tick) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, ticks...)
	return p.err
}

func (p *fakePublisher) published() []types.Tick {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Tick(nil), p.ticks...)
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
