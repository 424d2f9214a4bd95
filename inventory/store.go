package inventory

import (
	"context"
	"time"

	"github.com/enterpriseshop/stockops_backend/models"
)

// Txn is the handle a store hands to an Update callback. Everything done
// through one Txn commits or rolls back as a unit, and the ledger row for
// the Update's SKU is held exclusively for the duration.
type Txn interface {
	// Ledger returns the locked ledger row for the Update's SKU.
	// ErrLedgerNotFound when no row exists yet.
	Ledger() (*models.StockLedger, error)
	SaveLedger(l *models.StockLedger) error
	CreateLedger(l *models.StockLedger) error

	Reservation(code string) (*models.StockReservation, error)
	CreateReservation(r *models.StockReservation) error
	SaveReservation(r *models.StockReservation) error

	// AppendMovement writes one audit row. Movement rows are never
	// updated or deleted afterwards.
	AppendMovement(m *models.StockMovement) error

	// ClaimReservationKey registers (sku, orderReference) -> code. When the
	// pair is already claimed it returns the original code and created=false.
	ClaimReservationKey(sku, orderReference, code string) (existing string, created bool, err error)
}

// Statistics is an aggregate snapshot across every ledger row.
type Statistics struct {
	TotalSkus          int `json:"total_skus"`
	TotalUnits         int `json:"total_units"`
	TotalAvailable     int `json:"total_available"`
	TotalReserved      int `json:"total_reserved"`
	ActiveReservations int `json:"active_reservations"`
	LowStockSkus       int `json:"low_stock_skus"`
	OutOfStockSkus     int `json:"out_of_stock_skus"`
}

// Store abstracts ledger persistence so the manager and sweeper run the
// same against MySQL or the in-memory store used in tests and dev mode.
//
// Update serializes all mutations touching one SKU: two concurrent Update
// calls for the same SKU never interleave.
type Store interface {
	Update(ctx context.Context, sku string, fn func(Txn) error) error

	GetLedger(ctx context.Context, sku string) (*models.StockLedger, error)
	GetReservation(ctx context.Context, code string) (*models.StockReservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error)
	ListReservations(ctx context.Context, sku string, status models.ReservationStatus, limit int) ([]models.StockReservation, error)
	// ListMovements returns the newest-first audit rows for a SKU. A zero
	// from/to leaves that side of the time range open.
	ListMovements(ctx context.Context, sku string, from, to time.Time, limit int) ([]models.StockMovement, error)
	ListLowStock(ctx context.Context) ([]models.StockLedger, error)
	ListOutOfStock(ctx context.Context) ([]models.StockLedger, error)
	GetStatistics(ctx context.Context) (*Statistics, error)
}
