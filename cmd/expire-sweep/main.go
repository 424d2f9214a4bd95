// expire-sweep runs one expiration pass and exits. Useful when the
// long-running sweeper in the stock service is disabled, or to force a
// pass after a TTL change.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/expire-sweep
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/inventory"
	"github.com/enterpriseshop/stockops_backend/utils"
)

func main() {
	ctx := utils.SetActorInContext(context.Background(), "expire-sweep")
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	manager := inventory.NewManager(inventory.NewGormStore(db))
	sweeper := inventory.NewSweeper(manager)
	sweeper.BatchSize = 0 // no cap for a manual pass

	expired := sweeper.SweepOnce(ctx)
	fmt.Printf("expired %d reservation(s)\n", expired)
}
