package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is permitted.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusConfirmed || s == ReservationStatusReleased || s == ReservationStatusExpired
}

// InvalidStateError is returned when a transition is attempted on a
// reservation that is not ACTIVE. It is deliberately distinct from
// not-found so callers can tell "already handled" from "never existed".
type InvalidStateError struct {
	Code   string
	Status ReservationStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("reservation %s is not ACTIVE (current status: %s)", e.Code, e.Status)
}

// StockReservation is a time-bounded hold carving quantity out of a
// ledger's available bucket. ACTIVE is the only non-terminal state:
//
//	ACTIVE -> CONFIRMED | RELEASED | EXPIRED
type StockReservation struct {
	ID             int               `gorm:"primary_key" json:"id"`
	Code           string            `gorm:"size:20;not null;uniqueIndex" json:"code"`
	Sku            string            `gorm:"size:100;not null;index" json:"sku"`
	WarehouseCode  string            `gorm:"size:20;not null;default:MAIN" json:"warehouse_code"`
	Quantity       int               `gorm:"not null" json:"quantity"`
	OrderReference string            `gorm:"size:100;index" json:"order_reference"`
	Status         ReservationStatus `gorm:"size:20;not null;index:idx_reservation_status_expiry,priority:1" json:"status"`
	ReservedAt     time.Time         `gorm:"not null" json:"reserved_at"`
	ExpiresAt      time.Time         `gorm:"not null;index:idx_reservation_status_expiry,priority:2" json:"expires_at"`
	ConfirmedAt    *time.Time        `json:"confirmed_at"`
	ReleasedAt     *time.Time        `json:"released_at"`
	ReleaseReason  *string           `json:"release_reason"`
	CorrelationId  string            `gorm:"size:64" json:"correlation_id"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewReservationCode mints an externally referenceable hold code.
func NewReservationCode() string {
	return "RSV-" + strings.ToUpper(uuid.NewString()[:8])
}

func NewStockReservation(sku, warehouseCode string, quantity int, orderReference string, ttl time.Duration) *StockReservation {
	if warehouseCode == "" {
		warehouseCode = DefaultWarehouseCode
	}
	now := time.Now().UTC()
	return &StockReservation{
		Code:           NewReservationCode(),
		Sku:            sku,
		WarehouseCode:  warehouseCode,
		Quantity:       quantity,
		OrderReference: orderReference,
		Status:         ReservationStatusActive,
		ReservedAt:     now,
		ExpiresAt:      now.Add(ttl),
	}
}

func (r *StockReservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationStatusActive && r.ExpiresAt.Before(now)
}

// Confirm moves the hold to CONFIRMED. Fails unless ACTIVE.
func (r *StockReservation) Confirm() error {
	if r.Status != ReservationStatusActive {
		return &InvalidStateError{Code: r.Code, Status: r.Status}
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusConfirmed
	r.ConfirmedAt = &now
	return nil
}

// Release moves the hold to RELEASED. Fails unless ACTIVE.
func (r *StockReservation) Release(reason string) error {
	if r.Status != ReservationStatusActive {
		return &InvalidStateError{Code: r.Code, Status: r.Status}
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusReleased
	r.ReleasedAt = &now
	if reason != "" {
		r.ReleaseReason = &reason
	}
	return nil
}

// Expire moves the hold to EXPIRED. Kept distinct from RELEASED so the
// audit trail can tell forced reclamation from caller-initiated release.
func (r *StockReservation) Expire() error {
	if r.Status != ReservationStatusActive {
		return &InvalidStateError{Code: r.Code, Status: r.Status}
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusExpired
	r.ReleasedAt = &now
	return nil
}
