package tickstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/store"
	"autokite/internal/types"
)

// chConn is the slice of driver.Conn the sink uses.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
	Close() error
}

type chSeries struct {
	insert string
	exists string
}

// ClickHouse stores each instrument in a ReplacingMergeTree ordered by ts.
// The engine only collapses equal keys at merge time, so Append looks the ts
// up first and reports a duplicate itself. The dispatcher is the only writer.
type ClickHouse struct {
	conn     chConn
	database string

	mu     sync.RWMutex
	series map[uint32]chSeries
}

var _ interfaces.TickSink = (*ClickHouse)(nil)

func NewClickHouse(ctx context.Context, cfg *store.Config, password string) (*ClickHouse, error) {
	ch := cfg.Storage.ClickHouse
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{ch.Addr},
		Auth: clickhouse.Auth{
			Database: ch.Database,
			Username: ch.User,
			Password: password,
		},
		DialTimeout: ch.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return newClickHouse(conn, ch.Database), nil
}

func newClickHouse(conn chConn, database string) *ClickHouse {
	return &ClickHouse{conn: conn, database: database, series: make(map[uint32]chSeries)}
}

func (c *ClickHouse) table(token uint32) string {
	return fmt.Sprintf("`%s`.`token_%s`", c.database, strconv.FormatUint(uint64(token), 10))
}

func (c *ClickHouse) Prepare(ctx context.Context, tokens []uint32) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", c.database)); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tok := range tokens {
		table := c.table(tok)
		ddl := "CREATE TABLE IF NOT EXISTS " + table + ` (
			ts     DateTime64(3, 'Asia/Kolkata'),
			price  Float64,
			volume Int64
		) ENGINE = ReplacingMergeTree ORDER BY ts`
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create series for %d: %w", tok, err)
		}
		c.series[tok] = chSeries{
			insert: "INSERT INTO " + table + " (ts, price, volume) VALUES (?, ?, ?)",
			exists: "SELECT count() FROM " + table + " WHERE ts = ?",
		}
	}
	logger.Info(ctx, "Tick series ready", "backend", "clickhouse", "database", c.database, "instruments", len(tokens))
	return nil
}

func (c *ClickHouse) Append(ctx context.Context, tick types.Tick) (types.AppendOutcome, error) {
	c.mu.RLock()
	series, ok := c.series[tick.InstrumentToken]
	c.mu.RUnlock()
	if !ok {
		return types.OutcomeFailed, fmt.Errorf("%w: %d", ErrUnknownInstrument, tick.InstrumentToken)
	}

	var rows uint64
	if err := c.conn.QueryRow(ctx, series.exists, tick.Timestamp).Scan(&rows); err != nil {
		return types.OutcomeFailed, fmt.Errorf("lookup tick %d at %s: %w", tick.InstrumentToken, tick.Timestamp, err)
	}
	if rows > 0 {
		return types.OutcomeDuplicate, nil
	}

	if err := c.conn.Exec(ctx, series.insert, tick.Timestamp, tick.LastPrice, tick.Volume); err != nil {
		return types.OutcomeFailed, err
	}
	return types.OutcomeStored, nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
