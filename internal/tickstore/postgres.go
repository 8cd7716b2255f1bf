// Package tickstore persists ticks into one append-only series per instrument.
package tickstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/store"
	"autokite/internal/types"
)

// ErrUnknownInstrument means a tick arrived for a series that was never prepared.
var ErrUnknownInstrument = errors.New("no series prepared for instrument")

const pgUniqueViolation = "23505"

// pgExecutor is the slice of *pgxpool.Pool the sink uses.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres keeps each instrument in its own table, ticks.token_<n>, keyed
// by tick timestamp.
type Postgres struct {
	db     pgExecutor
	schema string

	mu      sync.RWMutex
	inserts map[uint32]string
}

var _ interfaces.TickSink = (*Postgres)(nil)

func NewPostgres(ctx context.Context, pg store.Postgres, schema string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(pg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql config: %w", err)
	}
	cfg.MaxConns = pg.MaxConns
	cfg.MinConns = pg.MinConns
	cfg.MaxConnLifetime = pg.MaxConnLifetime
	cfg.ConnConfig.ConnectTimeout = pg.ConnectTimeout
	cfg.ConnConfig.RuntimeParams["application_name"] = "autokite"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgresql pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgresql: %w", err)
	}
	return newPostgres(pool, schema), nil
}

func newPostgres(db pgExecutor, schema string) *Postgres {
	return &Postgres{db: db, schema: schema, inserts: make(map[uint32]string)}
}

func (p *Postgres) table(token uint32) string {
	return pgx.Identifier{p.schema, "token_" + strconv.FormatUint(uint64(token), 10)}.Sanitize()
}

// Prepare creates every series idempotently before any tick is written.
func (p *Postgres) Prepare(ctx context.Context, tokens []uint32) error {
	schema := pgx.Identifier{p.schema}.Sanitize()
	if _, err := p.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", p.schema, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tok := range tokens {
		table := p.table(tok)
		ddl := "CREATE TABLE IF NOT EXISTS " + table + ` (
			ts     timestamptz      PRIMARY KEY,
			price  double precision NOT NULL,
			volume bigint           NOT NULL
		)`
		if _, err := p.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create series for %d: %w", tok, err)
		}
		p.inserts[tok] = "INSERT INTO " + table + " (ts, price, volume) VALUES ($1, $2, $3) ON CONFLICT (ts) DO NOTHING"
	}
	logger.Info(ctx, "Tick series ready", "backend", "postgres", "schema", p.schema, "instruments", len(tokens))
	return nil
}

// Append writes one tick. A tick whose timestamp is already stored is a
// duplicate, not an error.
func (p *Postgres) Append(ctx context.Context, tick types.Tick) (types.AppendOutcome, error) {
	p.mu.RLock()
	insert, ok := p.inserts[tick.InstrumentToken]
	p.mu.RUnlock()
	if !ok {
		return types.OutcomeFailed, fmt.Errorf("%w: %d", ErrUnknownInstrument, tick.InstrumentToken)
	}

	tag, err := p.db.Exec(ctx, insert, tick.Timestamp, tick.LastPrice, tick.Volume)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return types.OutcomeDuplicate, nil
		}
		return types.OutcomeFailed, err
	}
	if tag.RowsAffected() == 0 {
		return types.OutcomeDuplicate, nil
	}
	return types.OutcomeStored, nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
