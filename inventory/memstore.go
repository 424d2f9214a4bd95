package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/enterpriseshop/stockops_backend/models"
)

// MemStore keeps everything in process memory. It backs the unit tests
// and the STOCK_STORE=memory dev mode where no MySQL is around.
//
// Per-SKU serialization is a mutex per SKU; writes are staged in the Txn
// and only applied when the callback returns nil, mirroring the rollback
// behavior of the MySQL store.
type MemStore struct {
	mu           sync.Mutex
	skuLocks     map[string]*sync.Mutex
	ledgers      map[string]*models.StockLedger
	reservations map[string]*models.StockReservation
	keys         map[string]string
	movements    []models.StockMovement
	nextID       int
}

func NewMemStore() *MemStore {
	return &MemStore{
		skuLocks:     make(map[string]*sync.Mutex),
		ledgers:      make(map[string]*models.StockLedger),
		reservations: make(map[string]*models.StockReservation),
		keys:         make(map[string]string),
	}
}

func (s *MemStore) lockFor(sku string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.skuLocks[sku]
	if !ok {
		l = &sync.Mutex{}
		s.skuLocks[sku] = l
	}
	return l
}

func (s *MemStore) allocID() int {
	s.nextID++
	return s.nextID
}

func cloneLedger(l *models.StockLedger) *models.StockLedger {
	c := *l
	return &c
}

func cloneReservation(r *models.StockReservation) *models.StockReservation {
	c := *r
	return &c
}

type memTxn struct {
	store *MemStore
	sku   string

	ledger       *models.StockLedger
	reservations map[string]*models.StockReservation
	movements    []*models.StockMovement
	claimedKeys  map[string]string
}

func (s *MemStore) Update(ctx context.Context, sku string, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(sku)
	lock.Lock()
	defer lock.Unlock()

	txn := &memTxn{
		store:        s,
		sku:          sku,
		reservations: make(map[string]*models.StockReservation),
		claimedKeys:  make(map[string]string),
	}
	if err := fn(txn); err != nil {
		return err
	}
	txn.commit()
	return nil
}

func (t *memTxn) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ledger != nil {
		if t.ledger.ID == 0 {
			t.ledger.ID = s.allocID()
		}
		s.ledgers[t.ledger.Sku] = cloneLedger(t.ledger)
	}
	for code, r := range t.reservations {
		if r.ID == 0 {
			r.ID = s.allocID()
		}
		s.reservations[code] = cloneReservation(r)
	}
	for k, code := range t.claimedKeys {
		s.keys[k] = code
	}
	for _, m := range t.movements {
		m.ID = s.allocID()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.movements = append(s.movements, *m)
	}
}

func (t *memTxn) Ledger() (*models.StockLedger, error) {
	if t.ledger != nil {
		return t.ledger, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	l, ok := t.store.ledgers[t.sku]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	t.ledger = cloneLedger(l)
	return t.ledger, nil
}

func (t *memTxn) SaveLedger(l *models.StockLedger) error {
	t.ledger = l
	return nil
}

func (t *memTxn) CreateLedger(l *models.StockLedger) error {
	t.ledger = l
	return nil
}

func (t *memTxn) Reservation(code string) (*models.StockReservation, error) {
	if r, ok := t.reservations[code]; ok {
		return r, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.reservations[code]
	if !ok {
		return nil, ErrReservationNotFound
	}
	c := cloneReservation(r)
	t.reservations[code] = c
	return c, nil
}

func (t *memTxn) CreateReservation(r *models.StockReservation) error {
	t.reservations[r.Code] = r
	return nil
}

func (t *memTxn) SaveReservation(r *models.StockReservation) error {
	t.reservations[r.Code] = r
	return nil
}

func (t *memTxn) AppendMovement(m *models.StockMovement) error {
	t.movements = append(t.movements, m)
	return nil
}

func (t *memTxn) ClaimReservationKey(sku, orderReference, code string) (string, bool, error) {
	k := sku + "|" + orderReference
	if existing, ok := t.claimedKeys[k]; ok {
		return existing, false, nil
	}
	t.store.mu.Lock()
	existing, ok := t.store.keys[k]
	t.store.mu.Unlock()
	if ok {
		return existing, false, nil
	}
	t.claimedKeys[k] = code
	return code, true, nil
}

func (s *MemStore) GetLedger(ctx context.Context, sku string) (*models.StockLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[sku]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return cloneLedger(l), nil
}

func (s *MemStore) GetReservation(ctx context.Context, code string) (*models.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[code]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return cloneReservation(r), nil
}

func (s *MemStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockReservation
	for _, r := range s.reservations {
		if r.IsExpired(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListReservations(ctx context.Context, sku string, status models.ReservationStatus, limit int) ([]models.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockReservation
	for _, r := range s.reservations {
		if sku != "" && r.Sku != sku {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListMovements(ctx context.Context, sku string, from, to time.Time, limit int) ([]models.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockMovement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.Sku != sku {
			continue
		}
		if !from.IsZero() && m.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !m.CreatedAt.Before(to) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) ListLowStock(ctx context.Context) ([]models.StockLedger, error) {
	return s.filterLedgers(func(l *models.StockLedger) bool { return l.IsLowStock() })
}

func (s *MemStore) ListOutOfStock(ctx context.Context) ([]models.StockLedger, error) {
	return s.filterLedgers(func(l *models.StockLedger) bool { return l.Available == 0 })
}

func (s *MemStore) filterLedgers(keep func(*models.StockLedger) bool) ([]models.StockLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockLedger
	for _, l := range s.ledgers {
		if keep(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sku < out[j].Sku })
	return out, nil
}

func (s *MemStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &Statistics{}
	for _, l := range s.ledgers {
		stats.TotalSkus++
		stats.TotalUnits += l.Total
		stats.TotalAvailable += l.Available
		stats.TotalReserved += l.Reserved
		if l.IsLowStock() {
			stats.LowStockSkus++
		}
		if l.Available == 0 {
			stats.OutOfStockSkus++
		}
	}
	for _, r := range s.reservations {
		if r.Status == models.ReservationStatusActive {
			stats.ActiveReservations++
		}
	}
	return stats, nil
}
