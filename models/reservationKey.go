package models

import "time"

// ReservationKey provides durable idempotency for Reserve calls.
// Unique constraint: (sku, order_reference). A retried Reserve for the same
// sku+order resolves to the original hold instead of double-reserving.
type ReservationKey struct {
	ID              int       `gorm:"primary_key" json:"id"`
	Sku             string    `gorm:"size:100;not null;index:uniq_resv_key,unique" json:"sku"`
	OrderReference  string    `gorm:"size:100;not null;index:uniq_resv_key,unique" json:"order_reference"`
	ReservationCode string    `gorm:"size:20;not null" json:"reservation_code"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
