package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enterpriseshop/stockops_backend/inventory"
	"github.com/enterpriseshop/stockops_backend/models"
)

func TestSweepExpiresOverdueReservations(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	seedStock(t, m, "SKU-001", 10)

	overdue, err := m.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-001", Quantity: 4, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	fresh, err := m.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-001", Quantity: 2, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	s := inventory.NewSweeper(m)
	if got := s.SweepOnce(ctx); got != 1 {
		t.Fatalf("SweepOnce expired %d, want 1", got)
	}

	r, err := m.GetReservation(ctx, overdue.Code)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if r.Status != models.ReservationStatusExpired {
		t.Fatalf("overdue status = %s, want EXPIRED", r.Status)
	}
	r, err = m.GetReservation(ctx, fresh.Code)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if r.Status != models.ReservationStatusActive {
		t.Fatalf("fresh status = %s, want ACTIVE", r.Status)
	}

	l := mustLedger(t, m, "SKU-001")
	if l.Available != 8 || l.Reserved != 2 {
		t.Fatalf("after sweep: available=%d reserved=%d", l.Available, l.Reserved)
	}
}

func TestSweepSkipsTerminalRacers(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	seedStock(t, m, "SKU-001", 10)

	r, err := m.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-001", Quantity: 4, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	// Caller confirms between the sweeper's listing and its transition.
	if _, err := m.Confirm(ctx, r.Code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	s := inventory.NewSweeper(m)
	if got := s.SweepOnce(ctx); got != 0 {
		t.Fatalf("SweepOnce expired %d, want 0", got)
	}
	// The expiry transition itself refuses terminal holds.
	if _, err := m.ExpireReservation(ctx, r.Code); err == nil {
		t.Fatal("ExpireReservation succeeded on a CONFIRMED hold")
	}
	got, err := m.GetReservation(ctx, r.Code)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if got.Status != models.ReservationStatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}
}

func TestSweepWritesExpiredMovement(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	seedStock(t, m, "SKU-001", 10)

	r, err := m.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-001", Quantity: 4, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	inventory.NewSweeper(m).SweepOnce(ctx)

	movements, err := m.Movements(ctx, "SKU-001", time.Time{}, time.Time{}, 1)
	if err != nil {
		t.Fatalf("Movements: %v", err)
	}
	if len(movements) != 1 || movements[0].MovementType != models.MovementReservationExpired {
		t.Fatalf("newest movement = %+v, want RESERVATION_EXPIRED", movements)
	}
	if movements[0].Reference != r.Code {
		t.Fatalf("movement reference = %q", movements[0].Reference)
	}
}

// flakyStore fails every Update for one SKU, standing in for a row the
// database refuses to touch.
type flakyStore struct {
	inventory.Store
	failSku string
}

func (f *flakyStore) Update(ctx context.Context, sku string, fn func(inventory.Txn) error) error {
	if sku == f.failSku {
		return errors.New("deadlock found when trying to get lock")
	}
	return f.Store.Update(ctx, sku, fn)
}

func TestSweepIsolatesPerReservationFailures(t *testing.T) {
	mem := inventory.NewMemStore()
	setup := inventory.NewManager(mem)
	ctx := context.Background()

	if _, err := setup.AddStock(ctx, "SKU-BAD", 10, "seed"); err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if _, err := setup.AddStock(ctx, "SKU-GOOD", 10, "seed"); err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	bad, err := setup.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-BAD", Quantity: 2, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	good, err := setup.Reserve(ctx, &inventory.ReserveInput{Sku: "SKU-GOOD", Quantity: 3, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	m := inventory.NewManager(&flakyStore{Store: mem, failSku: "SKU-BAD"})
	if got := inventory.NewSweeper(m).SweepOnce(ctx); got != 1 {
		t.Fatalf("SweepOnce expired %d, want 1", got)
	}

	r, err := m.GetReservation(ctx, good.Code)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if r.Status != models.ReservationStatusExpired {
		t.Fatalf("good reservation status = %s, want EXPIRED", r.Status)
	}
	r, err = m.GetReservation(ctx, bad.Code)
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if r.Status != models.ReservationStatusActive {
		t.Fatalf("bad reservation status = %s, want ACTIVE (left for the next pass)", r.Status)
	}
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	m := newManager(t)
	s := inventory.NewSweeper(m)
	s.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
