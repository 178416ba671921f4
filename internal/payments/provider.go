package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status enumerates the normalised gateway states shared across providers.
type Status string

const (
	// StatusCreated indicates the gateway order exists but has not been paid.
	StatusCreated Status = "created"
	// StatusAuthorized indicates the customer paid and the amount awaits capture.
	StatusAuthorized Status = "authorized"
	// StatusCaptured indicates the amount has been captured to the merchant account.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reported a definitive failure.
	StatusFailed Status = "failed"
)

var (
	// ErrSignatureMismatch is returned when a callback signature fails verification.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrGatewayUnavailable is returned for transport-level gateway failures.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected is returned when the gateway declines the request outright.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
)

// IntentRequest captures the payload required to open a gateway order.
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Intent represents the gateway-side order handed to the client for checkout.
type Intent struct {
	ID        string
	Amount    int64
	Currency  string
	Receipt   string
	Status    Status
	CreatedAt time.Time
}

// CaptureRequest defines a capture attempt for an authorized payment.
type CaptureRequest struct {
	PaymentID string
	Amount    int64
	Currency  string
}

// PaymentDetails normalises gateway payment fields for storage.
type PaymentDetails struct {
	PaymentID  string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Method     string
	CapturedAt *time.Time
}

// Callback is the signed triple the checkout page posts back after payment.
type Callback struct {
	IntentID  string
	PaymentID string
	Signature string
}

// Gateway is the contract payment providers implement.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error)
	VerifySignature(callback Callback) error
}

// SignCallback computes the hex HMAC-SHA256 signature the gateway attaches to
// checkout callbacks: the key is the API secret, the message is
// "<intentID>|<paymentID>".
func SignCallback(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackSignature checks the callback signature in constant time.
func VerifyCallbackSignature(secret string, callback Callback) error {
	if callback.IntentID == "" || callback.PaymentID == "" || callback.Signature == "" {
		return ErrSignatureMismatch
	}
	expected := SignCallback(secret, callback.IntentID, callback.PaymentID)
	if !hmac.Equal([]byte(expected), []byte(callback.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
