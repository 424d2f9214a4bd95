package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/enterpriseshop/stockops_backend/config"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/stockclient"
	"github.com/enterpriseshop/stockops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrShopInactive    = errors.New("shop is not active")
	ErrNoItems         = errors.New("order must contain at least one item")
	ErrDuplicateSku    = errors.New("order lines must not repeat a sku")
	ErrNothingReserved = errors.New("no item could be reserved")
	ErrOrderCancelled  = errors.New("order is cancelled")
)

// StockAPI is the slice of the stock service the order flow needs.
// *stockclient.Client satisfies it; tests plug in fakes.
type StockAPI interface {
	Reserve(ctx context.Context, req *stockclient.ReserveRequest) (*models.StockReservation, error)
	Confirm(ctx context.Context, code string) (*models.StockReservation, error)
	Release(ctx context.Context, code, reason string) (*models.StockReservation, error)
}

type Service struct {
	DB     *gorm.DB
	Stock  StockAPI
	Logger *logrus.Logger
}

func NewService(stock StockAPI) *Service {
	return &Service{
		DB:     config.GetDB(),
		Stock:  stock,
		Logger: config.GetLogger(),
	}
}

type OrderLineInput struct {
	Sku       string          `json:"sku" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PlaceOrderInput struct {
	ShopCode      string           `json:"shop_code" binding:"required"`
	CustomerName  string           `json:"customer_name"`
	CustomerEmail string           `json:"customer_email"`
	CustomerPhone string           `json:"customer_phone"`
	Items         []OrderLineInput `json:"items" binding:"required,dive"`
}

// ReserveLines asks the stock service to hold every line of an order.
// A line that cannot be held is recorded as FAILED with the refusal
// reason; the other lines keep their holds. There is no rollback here:
// the caller decides what a partially reserved order is worth.
func ReserveLines(ctx context.Context, stock StockAPI, logger *logrus.Logger, orderNumber string, lines []OrderLineInput) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := models.OrderItem{
			Sku:       line.Sku,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		}
		r, err := stock.Reserve(ctx, &stockclient.ReserveRequest{
			Sku:            line.Sku,
			Quantity:       line.Quantity,
			OrderReference: orderNumber,
		})
		if err != nil {
			item.ReservationStatus = models.OrderItemStatusFailed
			item.FailureReason = failureReason(err)
			logger.WithFields(logrus.Fields{
				"module": "orders",
				"order":  orderNumber,
				"sku":    line.Sku,
				"error":  err.Error(),
			}).Warn("line reservation failed")
		} else {
			item.ReservationStatus = models.OrderItemStatusReserved
			item.ReservationCode = r.Code
		}
		items = append(items, item)
	}
	return items
}

func failureReason(err error) string {
	var apiErr *stockclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// statusForItems aggregates the line outcomes: an order whose lines were
// all held comes in CONFIRMED, anything partial stays PENDING until the
// caller retries or cancels.
func statusForItems(items []models.OrderItem) models.OrderStatus {
	for _, item := range items {
		if item.ReservationStatus != models.OrderItemStatusReserved {
			return models.OrderStatusPending
		}
	}
	return models.OrderStatusConfirmed
}

// PlaceOrder reserves stock for every line and persists the order. The
// order is saved even when some lines failed; it is refused outright only
// when the shop is unknown/inactive or not a single line could be held.
func (s *Service) PlaceOrder(ctx context.Context, input *PlaceOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, ErrNoItems
	}
	// The stock service deduplicates Reserve on (sku, order number), so two
	// lines for the same SKU would end up sharing one hold.
	skus := make([]string, 0, len(input.Items))
	for _, line := range input.Items {
		skus = append(skus, line.Sku)
	}
	if len(utils.UniqueSlice(skus)) != len(skus) {
		return nil, ErrDuplicateSku
	}
	shop, err := models.GetShopByCode(ctx, input.ShopCode)
	if err != nil {
		return nil, err
	}
	if shop.Status != models.ShopStatusActive {
		return nil, ErrShopInactive
	}

	orderNumber := models.NewOrderNumber(time.Now().UTC())
	items := ReserveLines(ctx, s.Stock, s.Logger, orderNumber, input.Items)

	reserved := 0
	subtotal := decimal.Zero
	total := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
		if item.ReservationStatus == models.OrderItemStatusReserved {
			reserved++
			total = total.Add(item.LineTotal)
		}
	}
	if reserved == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNothingReserved, orderNumber)
	}

	order := models.Order{
		OrderNumber:   orderNumber,
		ShopCode:      shop.ShopCode,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		CustomerPhone: input.CustomerPhone,
		Status:        statusForItems(items),
		PaymentStatus: models.PaymentStatusPending,
		Subtotal:      subtotal,
		TotalAmount:   total,
		Items:         items,
	}
	if err := s.DB.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"module":   "orders",
		"order":    order.OrderNumber,
		"shop":     order.ShopCode,
		"status":   order.Status,
		"lines":    len(items),
		"reserved": reserved,
	}).Info("order placed")
	return &order, nil
}

// ConfirmOrder finalizes every held line. An order placed with all lines
// held is already CONFIRMED, but its stock holds stay ACTIVE until this
// call commits them. Lines whose hold meanwhile expired stay FAILED; the
// order confirms as long as one line went through.
func (s *Service) ConfirmOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s", ErrOrderCancelled, orderNumber)
	}
	if !order.HasReservedItems() {
		return nil, fmt.Errorf("%w: order %s", ErrNothingReserved, orderNumber)
	}

	confirmed := 0
	for i := range order.Items {
		item := &order.Items[i]
		if item.ReservationStatus != models.OrderItemStatusReserved {
			continue
		}
		if _, err := s.Stock.Confirm(ctx, item.ReservationCode); err != nil {
			item.ReservationStatus = models.OrderItemStatusFailed
			item.FailureReason = failureReason(err)
			s.Logger.WithFields(logrus.Fields{
				"module":      "orders",
				"order":       orderNumber,
				"reservation": item.ReservationCode,
				"error":       err.Error(),
			}).Warn("line confirmation failed")
			continue
		}
		item.ReservationStatus = models.OrderItemStatusConfirmed
		confirmed++
	}
	if confirmed == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNothingReserved, orderNumber)
	}

	order.Status = models.OrderStatusConfirmed
	order.PaymentStatus = models.PaymentStatusPaid
	if err := s.saveOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"module":    "orders",
		"order":     orderNumber,
		"confirmed": confirmed,
	}).Info("order confirmed")
	return order, nil
}

// CancelOrder releases every held line. A release that fails (already
// expired, stock service down) is logged and skipped so the remaining
// holds still come back.
func (s *Service) CancelOrder(ctx context.Context, orderNumber, reason string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s", ErrOrderCancelled, orderNumber)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ReservationStatus != models.OrderItemStatusReserved {
			continue
		}
		if _, err := s.Stock.Release(ctx, item.ReservationCode, reason); err != nil {
			// An already-expired hold returned its stock through the
			// sweeper; treat the conflict as released.
			if !stockclient.IsConflict(err) {
				s.Logger.WithFields(logrus.Fields{
					"module":      "orders",
					"order":       orderNumber,
					"reservation": item.ReservationCode,
					"error":       err.Error(),
				}).Error("line release failed")
				continue
			}
		}
		item.ReservationStatus = models.OrderItemStatusReleased
	}

	order.Cancel(reason)
	if err := s.saveOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"module": "orders",
		"order":  orderNumber,
		"reason": reason,
	}).Info("order cancelled")
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) ListOrders(ctx context.Context, shopCode string, limit int) ([]models.Order, error) {
	q := s.DB.WithContext(ctx).Preload("Items").Order("id DESC")
	if shopCode != "" {
		q = q.Where("shop_code = ?", shopCode)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) saveOrder(ctx context.Context, order *models.Order) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":              order.Status,
				"payment_status":      order.PaymentStatus,
				"cancelled_at":        order.CancelledAt,
				"cancellation_reason": order.CancellationReason,
			}).Error; err != nil {
			return err
		}
		for i := range order.Items {
			item := &order.Items[i]
			if err := tx.Model(&models.OrderItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"reservation_status": item.ReservationStatus,
					"failure_reason":     item.FailureReason,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
