package models

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

type OrderItemStatus string

const (
	OrderItemStatusReserved  OrderItemStatus = "RESERVED"
	OrderItemStatusFailed    OrderItemStatus = "FAILED"
	OrderItemStatusReleased  OrderItemStatus = "RELEASED"
	OrderItemStatusConfirmed OrderItemStatus = "CONFIRMED"
)

type Order struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	OrderNumber        string          `gorm:"size:50;not null;uniqueIndex" json:"order_number"`
	ShopCode           string          `gorm:"size:50;not null;index" json:"shop_code"`
	CustomerName       string          `gorm:"size:255" json:"customer_name,omitempty"`
	CustomerEmail      string          `gorm:"size:255" json:"customer_email,omitempty"`
	CustomerPhone      string          `gorm:"size:50" json:"customer_phone,omitempty"`
	Status             OrderStatus     `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	PaymentStatus      PaymentStatus   `gorm:"size:20;not null;default:PENDING" json:"payment_status"`
	Subtotal           decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"subtotal"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"total_amount"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason *string         `gorm:"size:255" json:"cancellation_reason,omitempty"`
	Items              []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrderId           int             `gorm:"not null;index" json:"order_id"`
	Sku               string          `gorm:"size:64;not null;index" json:"sku"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"unit_price"`
	LineTotal         decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"line_total"`
	ReservationCode   string          `gorm:"size:32" json:"reservation_code,omitempty"`
	ReservationStatus OrderItemStatus `gorm:"size:20;not null" json:"reservation_status"`
	FailureReason     string          `gorm:"size:255" json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewOrderNumber returns an order number like ORD-20240101120000-4821.
// The random suffix keeps two orders placed in the same second from
// colliding; the unique index on order_number is the real guard.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.Format("20060102150405"), rand.Intn(10000))
}

// Cancel moves the order to CANCELLED and records when and why. An empty
// reason is stored as NULL rather than an empty string.
func (o *Order) Cancel(reason string) {
	now := time.Now().UTC()
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	if reason != "" {
		o.CancellationReason = &reason
	}
}

// HasReservedItems reports whether at least one line holds an active
// reservation. An order with zero reserved lines cannot be confirmed.
func (o *Order) HasReservedItems() bool {
	for _, item := range o.Items {
		if item.ReservationStatus == OrderItemStatusReserved {
			return true
		}
	}
	return false
}
