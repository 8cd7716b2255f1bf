package tickstore

import (
	"context"
	"fmt"

	"autokite/internal/interfaces"
	"autokite/internal/store"
)

// New opens the sink selected by storage.backend.
func New(ctx context.Context, cfg *store.Config, env *store.Env) (interfaces.TickSink, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return NewPostgres(ctx, env.Postgres, cfg.Storage.Schema)
	case "clickhouse":
		return NewClickHouse(ctx, cfg, env.ClickHousePassword)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
