package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/utils"
	"gorm.io/gorm"
)

// Product is the minimal catalog record the ledger needs: the SKU identity.
// Full catalog management lives elsewhere; registering a product here also
// creates its zero-quantity ledger row so the SKU can be reserved against.
type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Sku       string    `gorm:"size:100;not null;uniqueIndex" json:"sku"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Sku           string `json:"sku" binding:"required"`
	Name          string `json:"name" binding:"required"`
	WarehouseCode string `json:"warehouse_code"`
}

func (input *NewProduct) validate(ctx context.Context) error {
	if strings.TrimSpace(input.Sku) == "" {
		return errors.New("sku is required")
	}
	if err := utils.ValidateUnique[Product](ctx, "sku", input.Sku, 0); err != nil {
		return err
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	product := Product{
		Sku:      strings.TrimSpace(input.Sku),
		Name:     input.Name,
		IsActive: utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		// The SKU enters inventory with zero quantities.
		ledger := NewStockLedger(product.Sku, input.WarehouseCode)
		return tx.Create(ledger).Error
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProductBySku(ctx context.Context, sku string) (*Product, error) {
	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).Where("sku = ?", sku).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func ListProducts(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := config.GetDB()
	var products []Product
	if err := db.WithContext(ctx).Order("sku ASC").Limit(limit).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
