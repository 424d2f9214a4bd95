package orders_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/orders"
	"github.com/enterpriseshop/stockops_backend/stockclient"
	"github.com/shopspring/decimal"
)

// fakeStock refuses the SKUs in refuse and remembers every call.
type fakeStock struct {
	refuse   map[string]error
	reserved []string
	released []string
}

func (f *fakeStock) Reserve(ctx context.Context, req *stockclient.ReserveRequest) (*models.StockReservation, error) {
	if err, ok := f.refuse[req.Sku]; ok {
		return nil, err
	}
	code := fmt.Sprintf("RSV-%s", req.Sku)
	f.reserved = append(f.reserved, code)
	return &models.StockReservation{
		Code:           code,
		Sku:            req.Sku,
		Quantity:       req.Quantity,
		OrderReference: req.OrderReference,
		Status:         models.ReservationStatusActive,
	}, nil
}

func (f *fakeStock) Confirm(ctx context.Context, code string) (*models.StockReservation, error) {
	return &models.StockReservation{Code: code, Status: models.ReservationStatusConfirmed}, nil
}

func (f *fakeStock) Release(ctx context.Context, code, reason string) (*models.StockReservation, error) {
	f.released = append(f.released, code)
	return &models.StockReservation{Code: code, Status: models.ReservationStatusReleased}, nil
}

func lines(skus ...string) []orders.OrderLineInput {
	out := make([]orders.OrderLineInput, 0, len(skus))
	for _, sku := range skus {
		out = append(out, orders.OrderLineInput{
			Sku:       sku,
			Quantity:  2,
			UnitPrice: decimal.NewFromInt(10),
		})
	}
	return out
}

func TestReserveLinesAllSucceed(t *testing.T) {
	stock := &fakeStock{}
	items := orders.ReserveLines(context.Background(), stock, config.GetLogger(), "ORD-TEST", lines("SKU-A", "SKU-B"))

	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.ReservationStatus != models.OrderItemStatusReserved {
			t.Fatalf("item %s status = %s, want RESERVED", item.Sku, item.ReservationStatus)
		}
		if item.ReservationCode == "" {
			t.Fatalf("item %s has no reservation code", item.Sku)
		}
		if !item.LineTotal.Equal(decimal.NewFromInt(20)) {
			t.Fatalf("item %s line total = %s, want 20", item.Sku, item.LineTotal)
		}
	}
}

func TestReserveLinesPartialFailureKeepsOtherHolds(t *testing.T) {
	stock := &fakeStock{refuse: map[string]error{
		"SKU-B": &stockclient.APIError{
			StatusCode: 422,
			Code:       "INSUFFICIENT_STOCK",
			Message:    "insufficient stock for SKU-B: requested 2, available 0",
		},
	}}
	items := orders.ReserveLines(context.Background(), stock, config.GetLogger(), "ORD-TEST", lines("SKU-A", "SKU-B", "SKU-C"))

	if items[0].ReservationStatus != models.OrderItemStatusReserved {
		t.Fatalf("SKU-A status = %s", items[0].ReservationStatus)
	}
	if items[1].ReservationStatus != models.OrderItemStatusFailed {
		t.Fatalf("SKU-B status = %s, want FAILED", items[1].ReservationStatus)
	}
	if items[1].FailureReason == "" {
		t.Fatal("failed line carries no reason")
	}
	if items[1].ReservationCode != "" {
		t.Fatalf("failed line carries reservation code %q", items[1].ReservationCode)
	}
	// The failure in the middle must not stop or undo the other lines.
	if items[2].ReservationStatus != models.OrderItemStatusReserved {
		t.Fatalf("SKU-C status = %s, want RESERVED", items[2].ReservationStatus)
	}
	if len(stock.released) != 0 {
		t.Fatalf("partial failure triggered releases: %v", stock.released)
	}
}

func TestReserveLinesAllFail(t *testing.T) {
	refusal := &stockclient.APIError{StatusCode: 422, Code: "INSUFFICIENT_STOCK", Message: "nothing left"}
	stock := &fakeStock{refuse: map[string]error{"SKU-A": refusal, "SKU-B": refusal}}
	items := orders.ReserveLines(context.Background(), stock, config.GetLogger(), "ORD-TEST", lines("SKU-A", "SKU-B"))

	for _, item := range items {
		if item.ReservationStatus != models.OrderItemStatusFailed {
			t.Fatalf("item %s status = %s, want FAILED", item.Sku, item.ReservationStatus)
		}
	}
}

func TestPlaceOrderRejectsDuplicateSkuLines(t *testing.T) {
	// Reserve dedup runs on (sku, order number), so a repeated SKU would
	// silently share one hold.
	s := &orders.Service{Stock: &fakeStock{}, Logger: config.GetLogger()}
	_, err := s.PlaceOrder(context.Background(), &orders.PlaceOrderInput{
		ShopCode: "SHOP-1",
		Items:    lines("SKU-A", "SKU-B", "SKU-A"),
	})
	if !errors.Is(err, orders.ErrDuplicateSku) {
		t.Fatalf("err = %v, want ErrDuplicateSku", err)
	}
}

func TestReserveLinesUsesOrderNumberAsReference(t *testing.T) {
	var gotRef string
	capture := stockCapture{inner: &fakeStock{}, ref: &gotRef}
	orders.ReserveLines(context.Background(), &capture, config.GetLogger(), "ORD-42", lines("SKU-A"))
	if gotRef != "ORD-42" {
		t.Fatalf("order_reference = %q, want ORD-42", gotRef)
	}
}

type stockCapture struct {
	inner orders.StockAPI
	ref   *string
}

func (c *stockCapture) Reserve(ctx context.Context, req *stockclient.ReserveRequest) (*models.StockReservation, error) {
	*c.ref = req.OrderReference
	return c.inner.Reserve(ctx, req)
}

func (c *stockCapture) Confirm(ctx context.Context, code string) (*models.StockReservation, error) {
	return c.inner.Confirm(ctx, code)
}

func (c *stockCapture) Release(ctx context.Context, code, reason string) (*models.StockReservation, error) {
	return c.inner.Release(ctx, code, reason)
}
