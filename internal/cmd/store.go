package cmd

import (
	"context"
	"fmt"

	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core/store"
)

// openStore loads config and opens the migrated store it names.
func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openConfiguredStore(ctx, cfg.Store)
}

// openConfiguredStore opens and migrates the store. The caller closes it.
func openConfiguredStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", db.Driver(), err)
	}
	return db, nil
}
