package stockclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enterpriseshop/stockops_backend/models"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewWithBaseURL(srv.URL)
	c.Backoff = time.Millisecond
	c.sleep = func(time.Duration) {}
	return c, srv
}

func writeReservation(w http.ResponseWriter, status models.ReservationStatus) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.StockReservation{
		Code:     "RSV-ABCD1234",
		Sku:      "SKU-001",
		Quantity: 2,
		Status:   status,
	})
}

func TestReserveSuccess(t *testing.T) {
	var gotPath, gotCorrelation string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCorrelation = r.Header.Get("x-correlation-id")
		writeReservation(w, models.ReservationStatusActive)
	}))

	r, err := c.Reserve(context.Background(), &ReserveRequest{Sku: "SKU-001", Quantity: 2})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Code != "RSV-ABCD1234" || r.Status != models.ReservationStatusActive {
		t.Fatalf("reservation = %+v", r)
	}
	if gotPath != "/api/v1/reservations" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotCorrelation == "" {
		t.Fatal("no x-correlation-id header sent")
	}
}

func TestStockAdjustPaths(t *testing.T) {
	var gotPaths []string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.StockLedger{Sku: "SKU-001", Available: 8})
	}))

	req := &StockAdjustRequest{Sku: "SKU-001", Quantity: 2, Reason: "cycle count"}
	if _, err := c.AddStock(context.Background(), req); err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	l, err := c.RemoveStock(context.Background(), req)
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if l.Sku != "SKU-001" || l.Available != 8 {
		t.Fatalf("ledger = %+v", l)
	}
	if len(gotPaths) != 2 || gotPaths[0] != "/api/v1/stock/add" || gotPaths[1] != "/api/v1/stock/remove" {
		t.Fatalf("paths = %v", gotPaths)
	}
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeReservation(w, models.ReservationStatusActive)
	}))

	if _, err := c.Reserve(context.Background(), &ReserveRequest{Sku: "SKU-001", Quantity: 2}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Reserve(context.Background(), &ReserveRequest{Sku: "SKU-001", Quantity: 2})
	if err == nil {
		t.Fatal("Reserve succeeded against an always-503 server")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Retryable() {
		t.Fatalf("final error = %v, want retryable APIError", err)
	}
}

func TestRetriesTooManyRequests(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeReservation(w, models.ReservationStatusActive)
	}))

	if _, err := c.Reserve(context.Background(), &ReserveRequest{Sku: "SKU-001", Quantity: 2}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestNeverRetriesClientErrors(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "INSUFFICIENT_STOCK",
			"message": "insufficient stock for SKU-001: requested 2, available 0",
		})
	}))

	_, err := c.Reserve(context.Background(), &ReserveRequest{Sku: "SKU-001", Quantity: 2})
	if err == nil {
		t.Fatal("Reserve succeeded against a 422")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (4xx must not be retried)", got)
	}
	if !IsUnprocessable(err) {
		t.Fatalf("IsUnprocessable(%v) = false", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Code != "INSUFFICIENT_STOCK" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestConflictAndNotFoundHelpers(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/reservations/RSV-GONE":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusConflict)
		}
	}))

	_, err := c.GetReservation(context.Background(), "RSV-GONE")
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}
	_, err = c.Confirm(context.Background(), "RSV-DONE")
	if !IsConflict(err) {
		t.Fatalf("IsConflict(%v) = false", err)
	}
}

func TestRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewWithBaseURL(url)
	c.Backoff = time.Millisecond
	var slept int32
	c.sleep = func(time.Duration) { atomic.AddInt32(&slept, 1) }

	_, err := c.GetStockLevel(context.Background(), "SKU-001")
	if err == nil {
		t.Fatal("GetStockLevel succeeded against a closed server")
	}
	// 3 attempts means 2 backoff sleeps.
	if got := atomic.LoadInt32(&slept); got != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", got)
	}
}

func TestBackoffDoubles(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c.Backoff = 100 * time.Millisecond
	var delays []time.Duration
	c.sleep = func(d time.Duration) { delays = append(delays, d) }

	c.GetStockLevel(context.Background(), "SKU-001")
	if len(delays) != 2 {
		t.Fatalf("sleeps = %v, want 2 entries", delays)
	}
	if delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("delays = %v, want [100ms 200ms]", delays)
	}
}
