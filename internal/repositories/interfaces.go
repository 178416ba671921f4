package repositories

import (
	"context"
	"time"

	domain "github.com/raileats/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID    string
	VendorID      string
	StationID     string
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	PlacedAfter   *time.Time
	PlacedBefore  *time.Time
	Pagination    domain.Pagination
}

// OrderRepository persists order aggregates including their item rows.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// TrackingRepository stores the append-only, compressing status trail of an order.
type TrackingRepository interface {
	Append(ctx context.Context, entry domain.TrackingEntry) error
	UpdateLatest(ctx context.Context, entry domain.TrackingEntry) error
	FindLatest(ctx context.Context, orderID string) (domain.TrackingEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.TrackingEntry, error)
}

// InvoiceRepository stores immutable invoices keyed one-to-one by order.
type InvoiceRepository interface {
	// Create fails with a conflict error when an invoice already exists for the order.
	Create(ctx context.Context, invoice domain.Invoice) error
	FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error)
}

// DirectoryRepository reads the reference entities orders are validated against.
type DirectoryRepository interface {
	FindCustomer(ctx context.Context, customerID string) (domain.Customer, error)
	FindVendor(ctx context.Context, vendorID string) (domain.Vendor, error)
	FindStation(ctx context.Context, stationID string) (domain.Station, error)
	FindTrain(ctx context.Context, trainID string) (domain.Train, error)
	FindMenuItem(ctx context.Context, vendorID, menuItemID string) (domain.MenuItem, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository aggregates dependency probes into a readiness report.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
