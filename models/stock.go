package models

import (
	"fmt"
	"time"
)

const DefaultWarehouseCode = "MAIN"

// StockLedger is the quantity record of truth for one SKU in one warehouse.
// All four quantity buckets are non-negative and available+reserved+damaged
// never exceeds total. Mutations go through the reservation manager only;
// the Version column is bumped on every write so interleaved writers are
// detectable even outside a row lock.
type StockLedger struct {
	ID              int        `gorm:"primary_key" json:"id"`
	Sku             string     `gorm:"size:100;not null;uniqueIndex:uniq_ledger_sku_wh" json:"sku"`
	WarehouseCode   string     `gorm:"size:20;not null;default:MAIN;uniqueIndex:uniq_ledger_sku_wh" json:"warehouse_code"`
	LocationCode    string     `gorm:"size:50" json:"location_code"`
	Total           int        `gorm:"not null;default:0" json:"total"`
	Available       int        `gorm:"not null;default:0" json:"available"`
	Reserved        int        `gorm:"not null;default:0" json:"reserved"`
	Damaged         int        `gorm:"not null;default:0" json:"damaged"`
	InTransit       int        `gorm:"not null;default:0" json:"in_transit"`
	MinimumStock    int        `gorm:"not null;default:0" json:"minimum_stock"`
	ReorderPoint    int        `gorm:"not null;default:0" json:"reorder_point"`
	Version         int64      `gorm:"not null;default:0" json:"version"`
	LastRestockedAt *time.Time `json:"last_restocked_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewStockLedger(sku, warehouseCode string) *StockLedger {
	if warehouseCode == "" {
		warehouseCode = DefaultWarehouseCode
	}
	return &StockLedger{Sku: sku, WarehouseCode: warehouseCode}
}

func (l *StockLedger) CanReserve(quantity int) bool {
	return l.Available >= quantity
}

// Reserve carves quantity out of available into reserved.
func (l *StockLedger) Reserve(quantity int) bool {
	if l.Available < quantity {
		return false
	}
	l.Available -= quantity
	l.Reserved += quantity
	l.Version++
	return true
}

// Release returns previously reserved quantity to available.
func (l *StockLedger) Release(quantity int) bool {
	if l.Reserved < quantity {
		return false
	}
	l.Reserved -= quantity
	l.Available += quantity
	l.Version++
	return true
}

// Commit converts a reserved quantity into a sale: it leaves the ledger
// permanently, so total shrinks together with reserved.
func (l *StockLedger) Commit(quantity int) bool {
	if l.Reserved < quantity {
		return false
	}
	l.Reserved -= quantity
	l.Total -= quantity
	l.Version++
	return true
}

func (l *StockLedger) AddStock(quantity int) {
	now := time.Now().UTC()
	l.Total += quantity
	l.Available += quantity
	l.LastRestockedAt = &now
	l.Version++
}

func (l *StockLedger) RemoveStock(quantity int) bool {
	if l.Available < quantity {
		return false
	}
	l.Available -= quantity
	l.Total -= quantity
	l.Version++
	return true
}

func (l *StockLedger) IsLowStock() bool {
	return l.Available < l.MinimumStock
}

func (l *StockLedger) NeedsReorder() bool {
	return l.Available <= l.ReorderPoint
}

// Invariant reports the first violated ledger constraint, if any.
func (l *StockLedger) Invariant() error {
	if l.Available < 0 || l.Reserved < 0 || l.Damaged < 0 || l.InTransit < 0 {
		return fmt.Errorf("ledger %s: negative quantity (available=%d reserved=%d damaged=%d in_transit=%d)",
			l.Sku, l.Available, l.Reserved, l.Damaged, l.InTransit)
	}
	if l.Available+l.Reserved+l.Damaged > l.Total {
		return fmt.Errorf("ledger %s: available+reserved+damaged (%d) exceeds total (%d)",
			l.Sku, l.Available+l.Reserved+l.Damaged, l.Total)
	}
	return nil
}

type MovementType string

const (
	MovementStockIn             MovementType = "STOCK_IN"
	MovementStockOut            MovementType = "STOCK_OUT"
	MovementReserved            MovementType = "RESERVED"
	MovementReservationConfirm  MovementType = "RESERVATION_CONFIRMED"
	MovementReservationReleased MovementType = "RESERVATION_RELEASED"
	MovementReservationExpired  MovementType = "RESERVATION_EXPIRED"
	MovementAdjusted            MovementType = "ADJUSTED"
)

// StockMovement is one append-only audit row per quantity mutation.
// Rows are never updated or deleted.
//
// QuantityBefore/QuantityAfter track the available bucket; they are nil for
// confirm events where only the reserved count changes.
type StockMovement struct {
	ID             int          `gorm:"primary_key" json:"id"`
	Sku            string       `gorm:"size:100;index:idx_movement_sku_date,priority:1;not null" json:"sku"`
	WarehouseCode  string       `gorm:"size:20;not null;default:MAIN" json:"warehouse_code"`
	MovementType   MovementType `gorm:"size:30;not null;index" json:"movement_type"`
	Quantity       int          `gorm:"not null" json:"quantity"`
	QuantityBefore *int         `json:"quantity_before"`
	QuantityAfter  *int         `json:"quantity_after"`
	Reference      string       `gorm:"size:100;index" json:"reference"`
	Reason         string       `gorm:"size:255" json:"reason"`
	PerformedBy    string       `gorm:"size:100" json:"performed_by"`
	CorrelationId  string       `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time    `gorm:"autoCreateTime;index:idx_movement_sku_date,priority:2" json:"created_at"`
}
