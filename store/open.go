package store

import (
	"context"
	"fmt"

	"faqrag/config"
)

// Open connects the backend selected by STORE_DRIVER and applies migrations.
func Open(ctx context.Context, cfg *config.Config) (DBStorer, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverPostgres:
		pg, err := NewPostgresStore(ctx, cfg.DatabaseURL, Options{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
