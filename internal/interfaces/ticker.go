package interfaces

import (
	"context"

	"autokite/internal/types"
)

// TickFeed is one live streaming connection. Batches is closed when the
// connection ends for good; Errors carries connection-level failures.
// After Close, Batches still yields every tick already received and must be
// read until it closes.
type TickFeed interface {
	Batches() <-chan []types.Tick
	Errors() <-chan error
	Close() error
}

// FeedConnector opens a connection and subscribes every token in full mode.
// Either the whole subscription succeeds or Connect returns an error.
type FeedConnector interface {
	Connect(ctx context.Context, session types.Session, tokens []uint32) (TickFeed, error)
}

// TickSink is the per-instrument append-only store.
type TickSink interface {
	Prepare(ctx context.Context, tokens []uint32) error
	Append(ctx context.Context, tick types.Tick) (types.AppendOutcome, error)
	Close() error
}

// TickPublisher mirrors stored ticks to a secondary consumer.
type TickPublisher interface {
	Publish(ctx context.Context, ticks []types.Tick) error
	Close() error
}
