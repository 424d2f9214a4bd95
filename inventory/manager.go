package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultReservationTTL = 30 * time.Minute
	stockLockTTL          = 30 * time.Second
	availabilityCacheTTL  = 5 * time.Second
)

var (
	ErrSkuRequired     = errors.New("sku is required")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
)

// Manager owns every mutation of stock ledgers and reservations. All
// writes for one SKU are serialized through Store.Update; the redis lock
// on top is best-effort contention relief across replicas, never the
// correctness mechanism.
type Manager struct {
	Store  Store
	Locker *redislock.Client
	Logger *logrus.Logger

	// DefaultTTL applies when a Reserve call carries no explicit TTL.
	DefaultTTL time.Duration
}

func NewManager(store Store) *Manager {
	return &Manager{
		Store:      store,
		Locker:     config.GetRedisLock(),
		Logger:     config.GetLogger(),
		DefaultTTL: DefaultReservationTTL,
	}
}

// withLock wraps fn with a best-effort redis lock for the SKU. When redis
// is down or the lock is contended we proceed anyway; the DB row lock in
// Store.Update still serializes the actual write.
func (m *Manager) withLock(ctx context.Context, sku string, fn func() error) error {
	locker := m.Locker
	if locker == nil {
		locker = config.GetRedisLock()
	}
	if locker != nil {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:stock:%s", sku), stockLockTTL, nil)
		if err == redislock.ErrNotObtained {
			m.Logger.WithFields(logrus.Fields{"module": "inventory", "sku": sku}).
				Warn("could not obtain redis lock; proceeding without redis lock")
		} else if err != nil {
			m.Logger.WithFields(logrus.Fields{"module": "inventory", "sku": sku, "error": err.Error()}).
				Warn("redis lock error; proceeding without redis lock")
		} else {
			defer lock.Release(context.WithoutCancel(ctx))
		}
	}
	return fn()
}

func actorFrom(ctx context.Context) string {
	actor, _ := utils.GetActorFromContext(ctx)
	if actor == "" {
		actor = "system"
	}
	return actor
}

func correlationFrom(ctx context.Context) string {
	id, _ := utils.GetCorrelationIdFromContext(ctx)
	return id
}

// warehouseFrom picks the warehouse a new ledger is created under. The
// HTTP layer sets it from the x-warehouse-code header.
func warehouseFrom(ctx context.Context) string {
	w, _ := utils.GetWarehouseFromContext(ctx)
	if w == "" {
		return models.DefaultWarehouseCode
	}
	return w
}

type ReserveInput struct {
	Sku            string        `json:"sku" binding:"required"`
	Quantity       int           `json:"quantity" binding:"required,gt=0"`
	OrderReference string        `json:"order_reference"`
	TTL            time.Duration `json:"-"`
	TTLMinutes     int           `json:"ttl_minutes"`
}

func (in *ReserveInput) ttl(def time.Duration) time.Duration {
	if in.TTL > 0 {
		return in.TTL
	}
	if in.TTLMinutes > 0 {
		return time.Duration(in.TTLMinutes) * time.Minute
	}
	return def
}

// Reserve carves quantity out of the SKU's available bucket and returns an
// ACTIVE hold. Retried calls carrying the same (sku, order_reference) pair
// return the original hold instead of reserving twice.
func (m *Manager) Reserve(ctx context.Context, input *ReserveInput) (*models.StockReservation, error) {
	if input.Sku == "" {
		return nil, ErrSkuRequired
	}
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var out *models.StockReservation
	err := m.withLock(ctx, input.Sku, func() error {
		return m.Store.Update(ctx, input.Sku, func(txn Txn) error {
			reservation := models.NewStockReservation(input.Sku, models.DefaultWarehouseCode, input.Quantity, input.OrderReference, input.ttl(m.DefaultTTL))
			reservation.CorrelationId = correlationFrom(ctx)

			if input.OrderReference != "" {
				existingCode, created, err := txn.ClaimReservationKey(input.Sku, input.OrderReference, reservation.Code)
				if err != nil {
					return err
				}
				if !created {
					existing, err := txn.Reservation(existingCode)
					if err != nil {
						return err
					}
					out = existing
					return nil
				}
			}

			ledger, err := txn.Ledger()
			if err != nil {
				return err
			}
			before := ledger.Available
			if !ledger.Reserve(input.Quantity) {
				return &InsufficientStockError{Sku: input.Sku, Requested: input.Quantity, Available: ledger.Available}
			}
			after := ledger.Available

			if err := txn.SaveLedger(ledger); err != nil {
				return err
			}
			if err := txn.CreateReservation(reservation); err != nil {
				return err
			}
			if err := txn.AppendMovement(&models.StockMovement{
				Sku:            input.Sku,
				WarehouseCode:  ledger.WarehouseCode,
				MovementType:   models.MovementReserved,
				Quantity:       input.Quantity,
				QuantityBefore: &before,
				QuantityAfter:  &after,
				Reference:      reservation.Code,
				Reason:         input.OrderReference,
				PerformedBy:    actorFrom(ctx),
				CorrelationId:  reservation.CorrelationId,
			}); err != nil {
				return err
			}
			out = reservation
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.Logger.WithFields(logrus.Fields{
		"module":      "inventory",
		"sku":         input.Sku,
		"quantity":    input.Quantity,
		"reservation": out.Code,
		"status":      out.Status,
	}).Info("stock reserved")
	m.invalidateAvailability(input.Sku)
	return out, nil
}

// Confirm finalizes an ACTIVE hold into a completed sale: the quantity
// leaves reserved and total together.
func (m *Manager) Confirm(ctx context.Context, code string) (*models.StockReservation, error) {
	return m.transition(ctx, code, models.MovementReservationConfirm, func(r *models.StockReservation, l *models.StockLedger) error {
		if err := r.Confirm(); err != nil {
			return err
		}
		if !l.Commit(r.Quantity) {
			return fmt.Errorf("ledger %s: reserved %d below reservation quantity %d", l.Sku, l.Reserved, r.Quantity)
		}
		return nil
	})
}

// Release cancels an ACTIVE hold and returns its quantity to available.
func (m *Manager) Release(ctx context.Context, code, reason string) (*models.StockReservation, error) {
	return m.transition(ctx, code, models.MovementReservationReleased, func(r *models.StockReservation, l *models.StockLedger) error {
		if err := r.Release(reason); err != nil {
			return err
		}
		if !l.Release(r.Quantity) {
			return fmt.Errorf("ledger %s: reserved %d below reservation quantity %d", l.Sku, l.Reserved, r.Quantity)
		}
		return nil
	})
}

// ExpireReservation is the sweeper's transition: like Release but keeps a
// distinct status and movement type in the audit trail.
func (m *Manager) ExpireReservation(ctx context.Context, code string) (*models.StockReservation, error) {
	return m.transition(ctx, code, models.MovementReservationExpired, func(r *models.StockReservation, l *models.StockLedger) error {
		if err := r.Expire(); err != nil {
			return err
		}
		if !l.Release(r.Quantity) {
			return fmt.Errorf("ledger %s: reserved %d below reservation quantity %d", l.Sku, l.Reserved, r.Quantity)
		}
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, code string, movement models.MovementType, apply func(*models.StockReservation, *models.StockLedger) error) (*models.StockReservation, error) {
	// Cheap unlocked read to learn the SKU; the transition itself re-reads
	// both rows under the lock.
	peek, err := m.Store.GetReservation(ctx, code)
	if err != nil {
		return nil, err
	}

	var out *models.StockReservation
	err = m.withLock(ctx, peek.Sku, func() error {
		return m.Store.Update(ctx, peek.Sku, func(txn Txn) error {
			reservation, err := txn.Reservation(code)
			if err != nil {
				return err
			}
			ledger, err := txn.Ledger()
			if err != nil {
				return err
			}
			before := ledger.Available
			if err := apply(reservation, ledger); err != nil {
				return err
			}
			after := ledger.Available

			if err := txn.SaveReservation(reservation); err != nil {
				return err
			}
			if err := txn.SaveLedger(ledger); err != nil {
				return err
			}

			mv := &models.StockMovement{
				Sku:           reservation.Sku,
				WarehouseCode: ledger.WarehouseCode,
				MovementType:  movement,
				Quantity:      reservation.Quantity,
				Reference:     reservation.Code,
				PerformedBy:   actorFrom(ctx),
				CorrelationId: correlationFrom(ctx),
			}
			// Confirm only moves reserved/total; available is untouched,
			// so the before/after columns stay empty for that movement.
			if movement != models.MovementReservationConfirm {
				mv.QuantityBefore = &before
				mv.QuantityAfter = &after
			}
			if err := txn.AppendMovement(mv); err != nil {
				return err
			}
			out = reservation
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.Logger.WithFields(logrus.Fields{
		"module":      "inventory",
		"sku":         out.Sku,
		"reservation": out.Code,
		"status":      out.Status,
	}).Info("reservation transition applied")
	m.invalidateAvailability(out.Sku)
	return out, nil
}

// AddStock receives quantity into the ledger, creating the ledger row on
// first receipt for a SKU.
func (m *Manager) AddStock(ctx context.Context, sku string, quantity int, reason string) (*models.StockLedger, error) {
	if sku == "" {
		return nil, ErrSkuRequired
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var out *models.StockLedger
	err := m.withLock(ctx, sku, func() error {
		return m.Store.Update(ctx, sku, func(txn Txn) error {
			created := false
			ledger, err := txn.Ledger()
			if errors.Is(err, ErrLedgerNotFound) {
				ledger = models.NewStockLedger(sku, warehouseFrom(ctx))
				created = true
			} else if err != nil {
				return err
			}
			before := ledger.Available
			ledger.AddStock(quantity)
			after := ledger.Available

			if created {
				err = txn.CreateLedger(ledger)
			} else {
				err = txn.SaveLedger(ledger)
			}
			if err != nil {
				return err
			}
			if err := txn.AppendMovement(&models.StockMovement{
				Sku:            sku,
				WarehouseCode:  ledger.WarehouseCode,
				MovementType:   models.MovementStockIn,
				Quantity:       quantity,
				QuantityBefore: &before,
				QuantityAfter:  &after,
				Reason:         reason,
				PerformedBy:    actorFrom(ctx),
				CorrelationId:  correlationFrom(ctx),
			}); err != nil {
				return err
			}
			out = ledger
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.invalidateAvailability(sku)
	return out, nil
}

// RemoveStock takes quantity out of the available bucket (damage,
// shrinkage, manual correction). Reserved quantity is never touched.
func (m *Manager) RemoveStock(ctx context.Context, sku string, quantity int, reason string) (*models.StockLedger, error) {
	if sku == "" {
		return nil, ErrSkuRequired
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var out *models.StockLedger
	err := m.withLock(ctx, sku, func() error {
		return m.Store.Update(ctx, sku, func(txn Txn) error {
			ledger, err := txn.Ledger()
			if err != nil {
				return err
			}
			before := ledger.Available
			if !ledger.RemoveStock(quantity) {
				return &InsufficientStockError{Sku: sku, Requested: quantity, Available: ledger.Available}
			}
			after := ledger.Available

			if err := txn.SaveLedger(ledger); err != nil {
				return err
			}
			if err := txn.AppendMovement(&models.StockMovement{
				Sku:            sku,
				WarehouseCode:  ledger.WarehouseCode,
				MovementType:   models.MovementStockOut,
				Quantity:       quantity,
				QuantityBefore: &before,
				QuantityAfter:  &after,
				Reason:         reason,
				PerformedBy:    actorFrom(ctx),
				CorrelationId:  correlationFrom(ctx),
			}); err != nil {
				return err
			}
			out = ledger
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.invalidateAvailability(sku)
	return out, nil
}

// Availability is a point-in-time answer; nothing is held. A later
// Reserve for the same quantity may still fail.
type Availability struct {
	Sku        string `json:"sku"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	CanFulfill bool   `json:"can_fulfill"`
}

func availabilityCacheKey(sku string) string {
	return fmt.Sprintf("stock:availability:%s", sku)
}

func (m *Manager) invalidateAvailability(sku string) {
	if err := config.RemoveRedisKey(availabilityCacheKey(sku)); err != nil {
		m.Logger.WithFields(logrus.Fields{"module": "inventory", "sku": sku, "error": err.Error()}).
			Warn("failed to invalidate availability cache")
	}
}

func (m *Manager) CheckAvailability(ctx context.Context, sku string, quantity int) (*Availability, error) {
	if sku == "" {
		return nil, ErrSkuRequired
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var available int
	found, err := config.GetRedisObject(availabilityCacheKey(sku), &available)
	if err != nil {
		m.Logger.WithFields(logrus.Fields{"module": "inventory", "sku": sku, "error": err.Error()}).
			Warn("availability cache read failed; falling back to store")
		found = false
	}
	if !found {
		ledger, err := m.Store.GetLedger(ctx, sku)
		if err != nil {
			return nil, err
		}
		available = ledger.Available
		if err := config.SetRedisObject(availabilityCacheKey(sku), available, availabilityCacheTTL); err != nil {
			m.Logger.WithFields(logrus.Fields{"module": "inventory", "sku": sku, "error": err.Error()}).
				Warn("availability cache write failed")
		}
	}

	return &Availability{
		Sku:        sku,
		Requested:  quantity,
		Available:  available,
		CanFulfill: available >= quantity,
	}, nil
}

func (m *Manager) StockLevel(ctx context.Context, sku string) (*models.StockLedger, error) {
	if sku == "" {
		return nil, ErrSkuRequired
	}
	return m.Store.GetLedger(ctx, sku)
}

func (m *Manager) GetReservation(ctx context.Context, code string) (*models.StockReservation, error) {
	return m.Store.GetReservation(ctx, code)
}

func (m *Manager) ListReservations(ctx context.Context, sku string, status models.ReservationStatus, limit int) ([]models.StockReservation, error) {
	return m.Store.ListReservations(ctx, sku, status, limit)
}

func (m *Manager) Movements(ctx context.Context, sku string, from, to time.Time, limit int) ([]models.StockMovement, error) {
	if sku == "" {
		return nil, ErrSkuRequired
	}
	return m.Store.ListMovements(ctx, sku, from, to, limit)
}

func (m *Manager) LowStock(ctx context.Context) ([]models.StockLedger, error) {
	return m.Store.ListLowStock(ctx)
}

func (m *Manager) OutOfStock(ctx context.Context) ([]models.StockLedger, error) {
	return m.Store.ListOutOfStock(ctx)
}

func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	return m.Store.GetStatistics(ctx)
}
