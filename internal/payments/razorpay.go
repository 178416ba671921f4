package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raileats/api/internal/platform/config"
)

const maxGatewayResponse = 1 << 20

// RazorpayGateway talks to the Razorpay Orders and Payments REST API.
type RazorpayGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

// RazorpayOption customises the gateway client.
type RazorpayOption func(*RazorpayGateway)

// WithHTTPClient injects a custom HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) RazorpayOption {
	return func(g *RazorpayGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// NewRazorpayGateway constructs a gateway client from configuration.
func NewRazorpayGateway(cfg config.GatewayConfig, opts ...RazorpayOption) (*RazorpayGateway, error) {
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("payments: gateway key id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payments: gateway base url is required")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	gateway := &RazorpayGateway{
		baseURL:   baseURL,
		keyID:     strings.TrimSpace(cfg.KeyID),
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	return gateway, nil
}

var _ Gateway = (*RazorpayGateway)(nil)

type razorpayOrderPayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayCapturePayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type razorpayPaymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Captured bool   `json:"captured"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent opens a gateway order for the given amount in minor units.
func (g *RazorpayGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", ErrGatewayRejected)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, fmt.Errorf("%w: currency is required", ErrGatewayRejected)
	}

	payload := razorpayOrderPayload{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  strings.TrimSpace(req.Receipt),
		Notes:    req.Notes,
	}

	var resp razorpayOrderResponse
	if err := g.post(ctx, "/orders", payload, &resp); err != nil {
		return Intent{}, err
	}

	return Intent{
		ID:        resp.ID,
		Amount:    resp.Amount,
		Currency:  resp.Currency,
		Receipt:   resp.Receipt,
		Status:    Status(resp.Status),
		CreatedAt: time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

// Capture settles an authorized payment for the full amount.
func (g *RazorpayGateway) Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: payment id is required", ErrGatewayRejected)
	}
	if req.Amount <= 0 {
		return PaymentDetails{}, fmt.Errorf("%w: amount must be positive", ErrGatewayRejected)
	}

	payload := razorpayCapturePayload{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}

	var resp razorpayPaymentResponse
	if err := g.post(ctx, "/payments/"+paymentID+"/capture", payload, &resp); err != nil {
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		PaymentID: resp.ID,
		IntentID:  resp.OrderID,
		Status:    Status(resp.Status),
		Amount:    resp.Amount,
		Currency:  resp.Currency,
		Method:    resp.Method,
	}
	if resp.Captured {
		now := time.Now().UTC()
		details.CapturedAt = &now
	}
	return details, nil
}

// VerifySignature checks the checkout callback signature against the API secret.
func (g *RazorpayGateway) VerifySignature(callback Callback) error {
	return VerifyCallbackSignature(g.keySecret, callback)
}

func (g *RazorpayGateway) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payments: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var gwErr razorpayErrorResponse
		if err := json.Unmarshal(data, &gwErr); err == nil && gwErr.Error.Description != "" {
			return fmt.Errorf("%w: %s (%s)", ErrGatewayRejected, gwErr.Error.Description, gwErr.Error.Code)
		}
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}
