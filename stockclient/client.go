// Package stockclient is the HTTP client the shop service uses to talk to
// the stock service. Transient failures (connection errors, 5xx, 429) are
// retried with exponential backoff; other 4xx responses are returned to
// the caller untouched because retrying them can double-apply a hold.
package stockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/enterpriseshop/stockops_backend/inventory"
	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/enterpriseshop/stockops_backend/utils"
	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// APIError is a non-2xx response from the stock service.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stock service error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether another attempt may succeed. Client errors
// other than 429 are deterministic and never retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration

	// sleep is swapped out in tests so backoff does not slow them down.
	sleep func(time.Duration)
}

func New() *Client {
	baseURL := strings.TrimSpace(os.Getenv("STOCK_SERVICE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}
	return NewWithBaseURL(baseURL)
}

func NewWithBaseURL(baseURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		MaxAttempts: defaultMaxAttempts,
		Backoff:     defaultBackoff,
		sleep:       time.Sleep,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sleep(backoff << (attempt - 2))
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-correlation-id", correlationId)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			// Connection refused, timeout, DNS: worth another attempt.
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed errorResponse
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Code != "" {
				apiErr.Code = parsed.Code
			}
			switch {
			case parsed.Message != "":
				apiErr.Message = parsed.Message
			case parsed.Error != "":
				apiErr.Message = parsed.Error
			}
		}
		if !apiErr.Retryable() {
			return apiErr
		}
		lastErr = apiErr
	}
	return lastErr
}

type ReserveRequest struct {
	Sku            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	OrderReference string `json:"order_reference,omitempty"`
	TTLMinutes     int    `json:"ttl_minutes,omitempty"`
}

type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type StockAdjustRequest struct {
	Sku      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

func (c *Client) Reserve(ctx context.Context, req *ReserveRequest) (*models.StockReservation, error) {
	var out models.StockReservation
	if err := c.do(ctx, http.MethodPost, "/api/v1/reservations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Confirm(ctx context.Context, code string) (*models.StockReservation, error) {
	var out models.StockReservation
	if err := c.do(ctx, http.MethodPost, "/api/v1/reservations/"+code+"/confirm", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Release(ctx context.Context, code, reason string) (*models.StockReservation, error) {
	var out models.StockReservation
	if err := c.do(ctx, http.MethodPost, "/api/v1/reservations/"+code+"/release", &ReleaseRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReservation(ctx context.Context, code string) (*models.StockReservation, error) {
	var out models.StockReservation
	if err := c.do(ctx, http.MethodGet, "/api/v1/reservations/"+code, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckAvailability(ctx context.Context, sku string, quantity int) (*inventory.Availability, error) {
	var out inventory.Availability
	path := fmt.Sprintf("/api/v1/stock/%s/availability?quantity=%d", sku, quantity)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetStockLevel(ctx context.Context, sku string) (*models.StockLedger, error) {
	var out models.StockLedger
	if err := c.do(ctx, http.MethodGet, "/api/v1/stock/"+sku, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddStock(ctx context.Context, req *StockAdjustRequest) (*models.StockLedger, error) {
	var out models.StockLedger
	if err := c.do(ctx, http.MethodPost, "/api/v1/stock/add", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveStock(ctx context.Context, req *StockAdjustRequest) (*models.StockLedger, error) {
	var out models.StockLedger
	if err := c.do(ctx, http.MethodPost, "/api/v1/stock/remove", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsConflict reports whether err is the stock service refusing an invalid
// state transition (terminal reservation).
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsUnprocessable reports whether err is an insufficient-stock refusal.
func IsUnprocessable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity
}

// IsNotFound reports whether err is a 404 from the stock service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
