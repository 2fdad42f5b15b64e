package cmd

import (
	"context"
	"fmt"

	"github.com/Impactstory/oadoi/internal/store/postgres"
)

// openPageStore builds the Postgres page store from the loaded config.
// Callers own Close.
func openPageStore(ctx context.Context) (*postgres.PageStore, error) {
	store, err := postgres.NewPageStore(ctx, postgres.PageStoreConfig{
		DSN:                   cfg.DB.DSN,
		Table:                 cfg.DB.Table,
		PublisherEquivalentID: cfg.Queue.PublisherEquivalentID,
		MaxConns:              cfg.DB.MaxConns,
		MinConns:              cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init page store: %w", err)
	}
	return store, nil
}
