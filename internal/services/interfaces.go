package services

import (
	"context"
	"time"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderAudit         = domain.OrderAudit
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	Amounts            = domain.Amounts
	Journey            = domain.Journey
	TrackingEntry      = domain.TrackingEntry
	Invoice            = domain.Invoice
	Customer           = domain.Customer
	Vendor             = domain.Vendor
	Station            = domain.Station
	Train              = domain.Train
	MenuItem           = domain.MenuItem
	SystemHealthReport = domain.SystemHealthReport

	OrderListFilter = repositories.OrderListFilter
)

// CreateOrderItemCommand names one menu item and quantity for a new order.
// Prices are never accepted from callers; they are read from the vendor menu.
type CreateOrderItemCommand struct {
	MenuItemID   string
	Quantity     int
	Instructions string
}

// CreateOrderCommand captures the input for placing an order.
type CreateOrderCommand struct {
	CustomerID           string
	VendorID             string
	StationID            string
	Journey              Journey
	DeliveryAt           *time.Time
	DeliveryInstructions string
	PaymentMethod        PaymentMethod
	Discount             int64
	Items                []CreateOrderItemCommand
	ActorID              string
}

// UpdateOrderStatusCommand advances (or refreshes) the order lifecycle status.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	Remarks string
	ActorID string
}

// MarkCodPaidCommand settles a cash-on-delivery order.
type MarkCodPaidCommand struct {
	OrderID string
	Remarks string
	ActorID string
}

// OrderReadOptions toggle optional loads when fetching a single order.
type OrderReadOptions struct {
	IncludeTracking bool
	VerifyMenuItems bool
}

// OrderService orchestrates the order lifecycle from placement to settlement.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, []TrackingEntry, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	MarkCodPaymentCompleted(ctx context.Context, cmd MarkCodPaidCommand) (Order, error)
	GetTracking(ctx context.Context, orderID string) ([]TrackingEntry, error)
}

// CreateGatewayOrderCommand opens a gateway-side order for checkout.
type CreateGatewayOrderCommand struct {
	OrderID string
	ActorID string
}

// VerifyPaymentCommand carries the signed callback posted after checkout.
type VerifyPaymentCommand struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
	ActorID        string
}

// GatewayOrder is the client-facing handle for a gateway checkout.
type GatewayOrder struct {
	OrderID        string
	GatewayOrderID string
	Amount         int64
	Currency       string
	KeyID          string
}

// PaymentService handles gateway order creation and settlement verification.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, cmd CreateGatewayOrderCommand) (GatewayOrder, error)
	VerifyAndCapturePayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
}

// GenerateInvoiceCommand requests the one-time invoice for a settled order.
type GenerateInvoiceCommand struct {
	OrderID string
	ActorID string
}

// InvoiceService generates and serves per-order invoices.
type InvoiceService interface {
	GenerateInvoice(ctx context.Context, cmd GenerateInvoiceCommand) (Invoice, error)
	GetInvoice(ctx context.Context, orderID string) (Invoice, error)
}

// InvoiceGenerator is the settlement-side hook used by the order and payment
// services to issue the invoice once a payment lands. Generation is keyed by
// order id, so a repeat call returns the existing invoice.
type InvoiceGenerator interface {
	GenerateInvoice(ctx context.Context, cmd GenerateInvoiceCommand) (Invoice, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	Status        string    `json:"status,omitempty"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	ActorID       string    `json:"actorId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// TransitionPolicy decides whether a lifecycle move from one status to another
// is legal. The default policy permits every move; deployments wanting a strict
// ladder install their own.
type TransitionPolicy func(from, to OrderStatus) bool

// AllowAllTransitions is the default TransitionPolicy.
func AllowAllTransitions(OrderStatus, OrderStatus) bool { return true }
