package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raileats/api/internal/repositories"
)

const invoiceNumberPrefix = "INV-"

// ErrInvoiceNotFound indicates no invoice exists for the order yet.
var ErrInvoiceNotFound = errors.New("invoice: not found")

// InvoiceRenderer lays out an invoice as a storable document.
type InvoiceRenderer interface {
	Render(invoice Invoice) ([]byte, error)
}

// InvoiceDocumentStore persists rendered invoice documents and returns their
// storage path.
type InvoiceDocumentStore interface {
	StoreInvoiceDocument(ctx context.Context, invoice Invoice, body []byte) (string, error)
}

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Orders    repositories.OrderRepository
	Invoices  repositories.InvoiceRepository
	Directory repositories.DirectoryRepository
	Renderer  InvoiceRenderer
	Documents InvoiceDocumentStore
	Pricing   *PricingEngine
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	orders    repositories.OrderRepository
	invoices  repositories.InvoiceRepository
	directory repositories.DirectoryRepository
	renderer  InvoiceRenderer
	documents InvoiceDocumentStore
	pricing   *PricingEngine
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewInvoiceService wires dependencies into a concrete InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("invoice service: directory repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("invoice service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &invoiceService{
		orders:    deps.Orders,
		invoices:  deps.Invoices,
		directory: deps.Directory,
		renderer:  deps.Renderer,
		documents: deps.Documents,
		pricing:   deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GenerateInvoice creates the order's invoice exactly once. Calling it again
// returns the existing invoice unchanged.
func (s *invoiceService) GenerateInvoice(ctx context.Context, cmd GenerateInvoiceCommand) (Invoice, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Invoice{}, mapOrderRepositoryError(err)
	}

	if !order.PaymentStatus.Terminal() {
		return Invoice{}, fmt.Errorf("%w: payment is %s, invoice requires a settled order", ErrOrderInvalidState, order.PaymentStatus)
	}
	if len(order.Items) == 0 {
		return Invoice{}, fmt.Errorf("%w: order %s has no line items", ErrOrderInvalidState, id)
	}

	if existing, err := s.invoices.FindByOrderID(ctx, id); err == nil {
		return existing, nil
	} else if !isRepoNotFound(err) {
		return Invoice{}, mapOrderRepositoryError(err)
	}

	customer, err := s.directory.FindCustomer(ctx, order.CustomerID)
	if err != nil {
		if isRepoNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: customer %s no longer exists", ErrOrderIntegrity, order.CustomerID)
		}
		return Invoice{}, mapOrderRepositoryError(err)
	}
	vendor, err := s.directory.FindVendor(ctx, order.VendorID)
	if err != nil {
		if isRepoNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: vendor %s no longer exists", ErrOrderIntegrity, order.VendorID)
		}
		return Invoice{}, mapOrderRepositoryError(err)
	}

	invoice := Invoice{
		OrderID:       order.ID,
		Number:        invoiceNumberPrefix + order.OrderNumber,
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		VendorName:    vendor.Name,
		VendorEmail:   vendor.Email,
		VendorGSTIN:   vendor.GSTIN,
		Items:         append([]OrderItem(nil), order.Items...),
		Amounts:       order.Amounts,
		TaxRateBp:     s.pricing.TaxRateBp(),
		Currency:      s.pricing.Currency(),
		PaymentStatus: order.PaymentStatus,
		IssuedAt:      s.clock(),
	}
	if order.PaymentRef != nil {
		invoice.PaymentRef = *order.PaymentRef
	}

	if s.renderer != nil && s.documents != nil {
		body, err := s.renderer.Render(invoice)
		if err != nil {
			return Invoice{}, fmt.Errorf("invoice: render: %w", err)
		}
		path, err := s.documents.StoreInvoiceDocument(ctx, invoice, body)
		if err != nil {
			// The invoice record is still written; the document can be
			// re-rendered from it later.
			s.logger(ctx, "invoice.document.store.failed", map[string]any{
				"order": invoice.OrderID,
				"error": err.Error(),
			})
		} else {
			invoice.DocumentPath = path
		}
	}

	if err := s.invoices.Create(ctx, invoice); err != nil {
		// A concurrent generate won the race; return the stored invoice.
		if isRepoConflict(err) {
			existing, findErr := s.invoices.FindByOrderID(ctx, id)
			if findErr != nil {
				return Invoice{}, mapOrderRepositoryError(findErr)
			}
			return existing, nil
		}
		return Invoice{}, mapOrderRepositoryError(err)
	}

	return invoice, nil
}

// GetInvoice loads the invoice stored for an order.
func (s *invoiceService) GetInvoice(ctx context.Context, orderID string) (Invoice, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	invoice, err := s.invoices.FindByOrderID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: order %s", ErrInvoiceNotFound, id)
		}
		return Invoice{}, mapOrderRepositoryError(err)
	}
	return invoice, nil
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
