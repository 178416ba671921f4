package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/raileats/api/internal/domain"
)

type stubInvoiceRepository struct {
	createFn        func(ctx context.Context, invoice domain.Invoice) error
	findByOrderIDFn func(ctx context.Context, orderID string) (domain.Invoice, error)
}

func (s *stubInvoiceRepository) Create(ctx context.Context, invoice domain.Invoice) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, invoice)
}

func (s *stubInvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	if s.findByOrderIDFn == nil {
		return domain.Invoice{}, stubRepositoryError{notFound: true}
	}
	return s.findByOrderIDFn(ctx, orderID)
}

type stubInvoiceRenderer struct {
	renderFn func(invoice Invoice) ([]byte, error)
}

func (s *stubInvoiceRenderer) Render(invoice Invoice) ([]byte, error) {
	if s.renderFn == nil {
		return []byte("rendered"), nil
	}
	return s.renderFn(invoice)
}

type stubInvoiceDocuments struct {
	storeFn func(ctx context.Context, invoice Invoice, body []byte) (string, error)
}

func (s *stubInvoiceDocuments) StoreInvoiceDocument(ctx context.Context, invoice Invoice, body []byte) (string, error) {
	if s.storeFn == nil {
		return "gs://raileats-invoices/invoices/" + invoice.OrderID + ".txt", nil
	}
	return s.storeFn(ctx, invoice, body)
}

func settledOrderFixture() domain.Order {
	ref := "COD_ord_1"
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "RE-2026-000042",
		CustomerID:    "cus_asha",
		VendorID:      "ven_rasoi",
		StationID:     "stn_jp",
		Status:        domain.OrderStatusDelivered,
		PaymentStatus: domain.PaymentStatusCompleted,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentRef:    &ref,
		Amounts:       domain.Amounts{Subtotal: 25000, Tax: 1250, DeliveryCharge: 2000, Total: 28250},
		Items: []domain.OrderItem{
			{MenuItemID: "mi_thali", Name: "Veg Thali", Quantity: 2, UnitPrice: 10000, Total: 20000},
			{MenuItemID: "mi_lassi", Name: "Lassi", Quantity: 1, UnitPrice: 5000, Total: 5000},
		},
	}
}

type invoiceServiceFixture struct {
	orders    *stubOrderRepository
	invoices  *stubInvoiceRepository
	directory *stubDirectoryRepository
	renderer  *stubInvoiceRenderer
	documents *stubInvoiceDocuments
}

func newInvoiceService(t *testing.T, fx *invoiceServiceFixture) InvoiceService {
	t.Helper()
	svc, err := NewInvoiceService(InvoiceServiceDeps{
		Orders:    fx.orders,
		Invoices:  fx.invoices,
		Directory: fx.directory,
		Renderer:  fx.renderer,
		Documents: fx.documents,
		Pricing:   newTestPricing(t),
		Clock:     fixedOrderClock,
	})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}
	return svc
}

func defaultInvoiceFixture() *invoiceServiceFixture {
	order := settledOrderFixture()
	return &invoiceServiceFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
				return order, nil
			},
		},
		invoices:  &stubInvoiceRepository{},
		directory: newStubDirectory(),
		renderer:  &stubInvoiceRenderer{},
		documents: &stubInvoiceDocuments{},
	}
}

func TestGenerateInvoiceSnapshotsParties(t *testing.T) {
	fx := defaultInvoiceFixture()
	var created *domain.Invoice
	fx.invoices.createFn = func(_ context.Context, invoice domain.Invoice) error {
		created = &invoice
		return nil
	}

	svc := newInvoiceService(t, fx)

	invoice, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}

	if invoice.Number != "INV-RE-2026-000042" {
		t.Fatalf("unexpected invoice number %q", invoice.Number)
	}
	if invoice.CustomerName != "Asha Verma" || invoice.VendorName != "Jaipur Rasoi" {
		t.Fatalf("party snapshot missing: %+v", invoice)
	}
	if invoice.VendorGSTIN != "08AARFR2938M1Z0" {
		t.Fatalf("vendor GSTIN missing: %q", invoice.VendorGSTIN)
	}
	if len(invoice.Items) != 2 || invoice.Items[0].Quantity != 2 || invoice.Items[0].UnitPrice != 10000 {
		t.Fatalf("line items missing: %#v", invoice.Items)
	}
	if invoice.PaymentRef != "COD_ord_1" {
		t.Fatalf("unexpected payment ref %q", invoice.PaymentRef)
	}
	if invoice.TaxRateBp != 500 || invoice.Currency != "INR" {
		t.Fatalf("unexpected tax/currency %d %q", invoice.TaxRateBp, invoice.Currency)
	}
	if !strings.HasPrefix(invoice.DocumentPath, "gs://") {
		t.Fatalf("document path not set: %q", invoice.DocumentPath)
	}
	if !invoice.IssuedAt.Equal(fixedOrderClock()) {
		t.Fatalf("unexpected issue time %v", invoice.IssuedAt)
	}
	if created == nil {
		t.Fatal("invoice was not persisted")
	}
}

func TestGenerateInvoiceRequiresSettledPayment(t *testing.T) {
	fx := defaultInvoiceFixture()
	fx.orders.findByIDFn = func(_ context.Context, _ string) (domain.Order, error) {
		order := settledOrderFixture()
		order.PaymentStatus = domain.PaymentStatusPending
		return order, nil
	}
	svc := newInvoiceService(t, fx)

	_, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestGenerateInvoiceRequiresLineItems(t *testing.T) {
	fx := defaultInvoiceFixture()
	fx.orders.findByIDFn = func(_ context.Context, _ string) (domain.Order, error) {
		order := settledOrderFixture()
		order.Items = nil
		return order, nil
	}
	svc := newInvoiceService(t, fx)

	_, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestGenerateInvoiceIsIdempotent(t *testing.T) {
	fx := defaultInvoiceFixture()
	existing := domain.Invoice{OrderID: "ord_1", Number: "INV-RE-2026-000042"}
	fx.invoices.findByOrderIDFn = func(_ context.Context, _ string) (domain.Invoice, error) {
		return existing, nil
	}
	fx.invoices.createFn = func(_ context.Context, _ domain.Invoice) error {
		t.Fatal("an existing invoice must not be recreated")
		return nil
	}
	svc := newInvoiceService(t, fx)

	invoice, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	if invoice.Number != existing.Number {
		t.Fatalf("expected the stored invoice, got %+v", invoice)
	}
}

func TestGenerateInvoiceConcurrentCreateReturnsWinner(t *testing.T) {
	fx := defaultInvoiceFixture()
	winner := domain.Invoice{OrderID: "ord_1", Number: "INV-RE-2026-000042", PaymentRef: "COD_ord_1"}
	first := true
	fx.invoices.findByOrderIDFn = func(_ context.Context, _ string) (domain.Invoice, error) {
		if first {
			first = false
			return domain.Invoice{}, stubRepositoryError{notFound: true}
		}
		return winner, nil
	}
	fx.invoices.createFn = func(_ context.Context, _ domain.Invoice) error {
		return stubRepositoryError{conflict: true}
	}
	svc := newInvoiceService(t, fx)

	invoice, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	if invoice.Number != winner.Number {
		t.Fatalf("expected the winning invoice, got %+v", invoice)
	}
}

func TestGenerateInvoiceSurvivesDocumentStoreFailure(t *testing.T) {
	fx := defaultInvoiceFixture()
	fx.documents.storeFn = func(_ context.Context, _ Invoice, _ []byte) (string, error) {
		return "", errors.New("bucket unavailable")
	}
	var created *domain.Invoice
	fx.invoices.createFn = func(_ context.Context, invoice domain.Invoice) error {
		created = &invoice
		return nil
	}
	svc := newInvoiceService(t, fx)

	invoice, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("GenerateInvoice must not fail on storage errors: %v", err)
	}
	if invoice.DocumentPath != "" {
		t.Fatalf("document path must stay empty, got %q", invoice.DocumentPath)
	}
	if created == nil {
		t.Fatal("invoice record was not persisted")
	}
}

func TestGenerateInvoiceMissingCustomerSnapshot(t *testing.T) {
	fx := defaultInvoiceFixture()
	fx.directory.customers = map[string]domain.Customer{}
	svc := newInvoiceService(t, fx)

	_, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderIntegrity) {
		t.Fatalf("expected ErrOrderIntegrity, got %v", err)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	fx := defaultInvoiceFixture()
	svc := newInvoiceService(t, fx)

	_, err := svc.GetInvoice(context.Background(), "ord_missing")
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
}
