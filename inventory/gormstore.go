package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/enterpriseshop/stockops_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists ledgers, reservations and movements in MySQL.
// Per-SKU serialization comes from SELECT ... FOR UPDATE on the ledger
// row inside Update's transaction.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

type gormTxn struct {
	tx  *gorm.DB
	sku string
}

func (s *GormStore) Update(ctx context.Context, sku string, fn func(Txn) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxn{tx: tx, sku: sku})
	})
}

func (t *gormTxn) Ledger() (*models.StockLedger, error) {
	var ledger models.StockLedger
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sku = ?", t.sku).
		Take(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLedgerNotFound
		}
		return nil, err
	}
	return &ledger, nil
}

func (t *gormTxn) SaveLedger(l *models.StockLedger) error {
	return t.tx.Save(l).Error
}

func (t *gormTxn) CreateLedger(l *models.StockLedger) error {
	return t.tx.Create(l).Error
}

func (t *gormTxn) Reservation(code string) (*models.StockReservation, error) {
	var r models.StockReservation
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (t *gormTxn) CreateReservation(r *models.StockReservation) error {
	return t.tx.Create(r).Error
}

func (t *gormTxn) SaveReservation(r *models.StockReservation) error {
	return t.tx.Save(r).Error
}

func (t *gormTxn) AppendMovement(m *models.StockMovement) error {
	return t.tx.Create(m).Error
}

func (t *gormTxn) ClaimReservationKey(sku, orderReference, code string) (string, bool, error) {
	key := models.ReservationKey{
		Sku:             sku,
		OrderReference:  orderReference,
		ReservationCode: code,
	}
	if err := t.tx.Create(&key).Error; err == nil {
		return code, true, nil
	} else if !isDuplicateKeyErr(err) {
		return "", false, err
	}

	var existing models.ReservationKey
	if err := t.tx.
		Where("sku = ? AND order_reference = ?", sku, orderReference).
		Take(&existing).Error; err != nil {
		return "", false, err
	}
	return existing.ReservationCode, false, nil
}

func (s *GormStore) GetLedger(ctx context.Context, sku string) (*models.StockLedger, error) {
	var ledger models.StockLedger
	err := s.DB.WithContext(ctx).Where("sku = ?", sku).Take(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLedgerNotFound
		}
		return nil, err
	}
	return &ledger, nil
}

func (s *GormStore) GetReservation(ctx context.Context, code string) (*models.StockReservation, error) {
	var r models.StockReservation
	err := s.DB.WithContext(ctx).Where("code = ?", code).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	var out []models.StockReservation
	q := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.ReservationStatusActive, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListReservations(ctx context.Context, sku string, status models.ReservationStatus, limit int) ([]models.StockReservation, error) {
	q := s.DB.WithContext(ctx).Order("id DESC")
	if sku != "" {
		q = q.Where("sku = ?", sku)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.StockReservation
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListMovements(ctx context.Context, sku string, from, to time.Time, limit int) ([]models.StockMovement, error) {
	q := s.DB.WithContext(ctx).Where("sku = ?", sku).Order("id DESC")
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.StockMovement
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListLowStock(ctx context.Context) ([]models.StockLedger, error) {
	var out []models.StockLedger
	err := s.DB.WithContext(ctx).
		Where("available < minimum_stock").
		Order("sku ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListOutOfStock(ctx context.Context) ([]models.StockLedger, error) {
	var out []models.StockLedger
	err := s.DB.WithContext(ctx).
		Where("available = 0").
		Order("sku ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	db := s.DB.WithContext(ctx)
	var stats Statistics

	type totals struct {
		Skus      int
		Units     int
		Available int
		Reserved  int
	}
	var t totals
	err := db.Model(&models.StockLedger{}).
		Select("COUNT(*) AS skus, COALESCE(SUM(total),0) AS units, COALESCE(SUM(available),0) AS available, COALESCE(SUM(reserved),0) AS reserved").
		Scan(&t).Error
	if err != nil {
		return nil, err
	}
	stats.TotalSkus = t.Skus
	stats.TotalUnits = t.Units
	stats.TotalAvailable = t.Available
	stats.TotalReserved = t.Reserved

	var active int64
	if err := db.Model(&models.StockReservation{}).
		Where("status = ?", models.ReservationStatusActive).
		Count(&active).Error; err != nil {
		return nil, err
	}
	stats.ActiveReservations = int(active)

	var low int64
	if err := db.Model(&models.StockLedger{}).
		Where("available < minimum_stock").
		Count(&low).Error; err != nil {
		return nil, err
	}
	stats.LowStockSkus = int(low)

	var out int64
	if err := db.Model(&models.StockLedger{}).
		Where("available = 0").
		Count(&out).Error; err != nil {
		return nil, err
	}
	stats.OutOfStockSkus = int(out)

	return &stats, nil
}
