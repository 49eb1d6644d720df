package cmd

import (
	"context"
	"fmt"

	"property-reconciliation-service/internal/storage/postgres"
	"property-reconciliation-service/internal/stores"

	"github.com/spf13/viper"
)

// storeBundle is the slice of store interfaces the dedup commands need
type storeBundle interface {
	stores.InvoiceLineStore
	stores.TombstoneStore
	stores.MergeStore
}

// openStore connects to the configured postgres instance. Every command
// that touches persisted state goes through here; import --dry-run is the
// only store-free path.
func openStore(ctx context.Context) (*postgres.Store, error) {
	connString := viper.GetString("dsn")
	if connString == "" {
		return nil, fmt.Errorf("no database configured: set --dsn or RECONCILER_DSN")
	}

	store, err := postgres.Open(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}
