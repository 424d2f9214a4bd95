package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrLedgerNotFound      = errors.New("stock ledger not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// InsufficientStockError is returned when a reserve or remove asks for
// more than the available bucket holds. It carries the observed quantity
// so callers can surface it without a second read.
type InsufficientStockError struct {
	Sku       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Sku, e.Requested, e.Available)
}
