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

type ShopStatus string

const (
	ShopStatusActive   ShopStatus = "ACTIVE"
	ShopStatusInactive ShopStatus = "INACTIVE"
)

type Shop struct {
	ID        int        `gorm:"primary_key" json:"id"`
	ShopCode  string     `gorm:"size:50;not null;uniqueIndex" json:"shop_code"`
	Name      string     `gorm:"size:255;not null" json:"name"`
	Email     string     `gorm:"size:255" json:"email"`
	Phone     string     `gorm:"size:20" json:"phone"`
	Address   string     `gorm:"type:text" json:"address"`
	Status    ShopStatus `gorm:"size:20;not null;default:ACTIVE;index" json:"status"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShop struct {
	ShopCode string `json:"shop_code" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func CreateShop(ctx context.Context, input *NewShop) (*Shop, error) {
	if strings.TrimSpace(input.ShopCode) == "" {
		return nil, errors.New("shop_code is required")
	}
	if err := utils.ValidateUnique[Shop](ctx, "shop_code", input.ShopCode, 0); err != nil {
		return nil, err
	}

	shop := Shop{
		ShopCode: strings.TrimSpace(input.ShopCode),
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Address:  input.Address,
		Status:   ShopStatusActive,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func GetShopByCode(ctx context.Context, shopCode string) (*Shop, error) {
	db := config.GetDB()
	var shop Shop
	if err := db.WithContext(ctx).Where("shop_code = ?", shopCode).Take(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &shop, nil
}
