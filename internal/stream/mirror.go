package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/metrics"
	"autokite/internal/types"
)

const (
	defaultMirrorQueue   = 64
	defaultMirrorTimeout = 5 * time.Second
)

// Mirror forwards stored ticks to a publisher from its own goroutine. The
// queue is bounded and Offer never waits: when the publisher falls behind,
// batches are dropped and counted so storage keeps its pace.
type Mirror struct {
	publisher interfaces.TickPublisher
	timeout   time.Duration
	queue     chan []types.Tick

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	dropped atomic.Int64
}

// NewMirror starts the publishing goroutine. Each Publish call is bounded by
// timeout.
func NewMirror(publisher interfaces.TickPublisher, depth int, timeout time.Duration) *Mirror {
	if depth < 1 {
		depth = defaultMirrorQueue
	}
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		publisher: publisher,
		timeout:   timeout,
		queue:     make(chan []types.Tick, depth),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// Offer queues ticks for publishing and reports whether they were accepted.
func (m *Mirror) Offer(ticks []types.Tick) bool {
	select {
	case m.queue <- ticks:
		return true
	default:
		m.dropped.Add(int64(len(ticks)))
		metrics.RecordMirror("dropped", len(ticks))
		return false
	}
}

// Dropped is the number of ticks discarded because the queue was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

func (m *Mirror) run() {
	defer close(m.done)
	for ticks := range m.queue {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := m.publisher.Publish(ctx, ticks)
		cancel()
		if err != nil {
			metrics.RecordMirror("error", len(ticks))
			logger.Warn(ctx, "Failed to publish ticks", "count", len(ticks), "error", err)
			continue
		}
		metrics.RecordMirror("ok", len(ticks))
	}
}

// Close publishes what is still queued, giving up on the remainder once one
// timeout has passed, then closes the publisher. Offer must not be called
// after Close.
func (m *Mirror) Close(ctx context.Context) error {
	close(m.queue)

	grace := time.NewTimer(m.timeout)
	defer grace.Stop()
	select {
	case <-m.done:
	case <-grace.C:
		logger.Warn(ctx, "Tick mirror did not drain in time", "queued", len(m.queue))
		m.cancel()
		<-m.done
	}
	m.cancel()

	if dropped := m.Dropped(); dropped > 0 {
		logger.Warn(ctx, "Tick mirror dropped ticks while the publisher was behind", "count", dropped)
	}
	if err := m.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
