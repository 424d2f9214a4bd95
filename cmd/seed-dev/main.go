// seed-dev loads a small development dataset: one shop, a handful of
// products and opening stock for each.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/inventory"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/utils"
)

type seedProduct struct {
	sku      string
	name     string
	quantity int
}

var seedProducts = []seedProduct{
	{"SKU-TSHIRT-M", "T-Shirt (M)", 120},
	{"SKU-TSHIRT-L", "T-Shirt (L)", 80},
	{"SKU-HOODIE-M", "Hoodie (M)", 40},
	{"SKU-MUG-01", "Coffee Mug", 200},
	{"SKU-POSTER-A2", "Poster A2", 15},
}

func main() {
	ctx := utils.SetActorInContext(context.Background(), "seed-dev")
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	if _, err := models.GetShopByCode(ctx, "DEVSHOP"); errors.Is(err, utils.ErrorRecordNotFound) {
		if _, err := models.CreateShop(ctx, &models.NewShop{
			ShopCode: "DEVSHOP",
			Name:     "Development Shop",
			Email:    "dev@localhost",
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create shop: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created shop DEVSHOP")
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup shop: %v\n", err)
		os.Exit(1)
	}

	manager := inventory.NewManager(inventory.NewGormStore(db))
	for _, p := range seedProducts {
		if _, err := models.GetProductBySku(ctx, p.sku); errors.Is(err, utils.ErrorRecordNotFound) {
			if _, err := models.CreateProduct(ctx, &models.NewProduct{Sku: p.sku, Name: p.name}); err != nil {
				fmt.Fprintf(os.Stderr, "failed to create product %s: %v\n", p.sku, err)
				os.Exit(1)
			}
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "failed to lookup product %s: %v\n", p.sku, err)
			os.Exit(1)
		} else {
			fmt.Printf("product %s already present; skipping\n", p.sku)
			continue
		}
		ledger, err := manager.AddStock(ctx, p.sku, p.quantity, "dev seed")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to stock %s: %v\n", p.sku, err)
			os.Exit(1)
		}
		fmt.Printf("seeded %s: available=%d\n", p.sku, ledger.Available)
	}
	fmt.Println("done")
}
