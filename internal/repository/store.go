package repository

import (
	"context"
	"fmt"

	"github.com/Bidon15/erc20kit/internal/config"
)

// Open returns the Repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
