package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus is an open set of lifecycle tokens for orders. The ledger records
// whichever token was supplied; transition legality is a caller-configured policy.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial status assigned at creation.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusPreparing indicates the vendor has started preparing the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusPrepared indicates the order is packed and awaiting handoff.
	OrderStatusPrepared OrderStatus = "prepared"
	// OrderStatusOutForDelivery indicates the runner is en route to the coach.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the order reached the passenger.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates settlement states for an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no settlement has happened yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted is the terminal success state for cash-on-delivery.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusCaptured is the terminal success state for gateway payments.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusFailed indicates the gateway reported a definitive failure.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Terminal reports whether the payment status is a settled end state.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusCaptured
}

// PaymentMethod tags how an order is settled. Free-text in the store; the two
// well-known values get constants.
type PaymentMethod string

const (
	// PaymentMethodCOD marks cash-on-delivery orders reconciled by an operator.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodRazorpay marks orders settled through the payment gateway.
	PaymentMethodRazorpay PaymentMethod = "RAZORPAY"
)

// Amounts holds the rolled-up monetary fields of an order in paise.
// Total is always Subtotal + Tax + DeliveryCharge - Discount and never negative.
type Amounts struct {
	Subtotal       int64
	Tax            int64
	DeliveryCharge int64
	Discount       int64
	Total          int64
}

// Journey captures the passenger's train context. Every field is optional:
// walk-in station orders carry an empty Journey.
type Journey struct {
	TrainID string
	PNR     string
	Coach   string
	Seat    string
}

// Order is the aggregate root of the lifecycle subsystem.
type Order struct {
	ID                   string
	OrderNumber          string
	CustomerID           string
	VendorID             string
	StationID            string
	Journey              Journey
	DeliveryAt           *time.Time
	DeliveryInstructions string
	Status               OrderStatus
	Amounts              Amounts
	PaymentStatus        PaymentStatus
	PaymentMethod        PaymentMethod
	GatewayOrderID       *string
	PaymentRef           *string
	Items                []OrderItem
	Audit                OrderAudit
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SettledAt            *time.Time
}

// OrderItem is owned exclusively by one order. UnitPrice is a snapshot taken at
// order time and is immune to later menu edits.
type OrderItem struct {
	MenuItemID   string
	Name         string
	Quantity     int
	UnitPrice    int64
	Total        int64
	Instructions string
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// TrackingEntry is one row of the order's status history. Consecutive rows never
// share a status: a repeated status refreshes the latest row in place.
type TrackingEntry struct {
	ID        string
	OrderID   string
	Status    OrderStatus
	Remarks   string
	ActorID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invoice is created at most once per order and is immutable afterwards.
// Customer and vendor identity are snapshots so billing survives later edits.
type Invoice struct {
	OrderID       string
	Number        string
	CustomerName  string
	CustomerEmail string
	VendorName    string
	VendorEmail   string
	VendorGSTIN   string
	Items         []OrderItem
	Amounts       Amounts
	TaxRateBp     int64
	Currency      string
	PaymentStatus PaymentStatus
	PaymentRef    string
	DocumentPath  string
	IssuedAt      time.Time
}

// Customer is the projection of a passenger held by the directory service.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Vendor is a station-based food outlet.
type Vendor struct {
	ID        string
	Name      string
	Email     string
	StationID string
	GSTIN     string
	IsActive  bool
}

// Train is directory metadata for a train referenced by journeys.
type Train struct {
	ID     string
	Number string
	Name   string
}

// Station is a delivery station served by vendors.
type Station struct {
	ID   string
	Code string
	Name string
}

// MenuItem is a vendor menu entry; Price is the live price, not the order snapshot.
type MenuItem struct {
	ID          string
	VendorID    string
	Name        string
	Price       int64
	IsAvailable bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness checks.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
