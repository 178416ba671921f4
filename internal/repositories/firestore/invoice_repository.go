package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/raileats/api/internal/domain"
	pfirestore "github.com/raileats/api/internal/platform/firestore"
	"github.com/raileats/api/internal/repositories"
)

const invoicesCollection = "invoices"

type invoiceDocument struct {
	Number        string              `firestore:"number"`
	CustomerName  string              `firestore:"customerName"`
	CustomerEmail string              `firestore:"customerEmail,omitempty"`
	VendorName    string              `firestore:"vendorName"`
	VendorEmail   string              `firestore:"vendorEmail,omitempty"`
	VendorGSTIN   string              `firestore:"vendorGstin,omitempty"`
	Items         []orderItemDocument `firestore:"items"`
	Amounts       amountsDocument     `firestore:"amounts"`
	TaxRateBp     int64               `firestore:"taxRateBp"`
	Currency      string              `firestore:"currency"`
	PaymentStatus string              `firestore:"paymentStatus"`
	PaymentRef    string              `firestore:"paymentRef,omitempty"`
	DocumentPath  string              `firestore:"documentPath,omitempty"`
	IssuedAt      time.Time           `firestore:"issuedAt"`
}

// InvoiceRepository stores invoices keyed by their order id, which enforces the
// one-invoice-per-order constraint at the storage layer.
type InvoiceRepository struct {
	provider *pfirestore.Provider
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{provider: provider}, nil
}

var _ repositories.InvoiceRepository = (*InvoiceRepository)(nil)

// Create stores the invoice. A second create for the same order fails with a
// conflict error; invoices are never updated afterwards.
func (r *InvoiceRepository) Create(ctx context.Context, invoice domain.Invoice) error {
	ref, err := r.docRef(ctx, invoice.OrderID)
	if err != nil {
		return err
	}

	doc := invoiceDocument{
		Number:        strings.TrimSpace(invoice.Number),
		CustomerName:  invoice.CustomerName,
		CustomerEmail: invoice.CustomerEmail,
		VendorName:    invoice.VendorName,
		VendorEmail:   invoice.VendorEmail,
		VendorGSTIN:   invoice.VendorGSTIN,
		Amounts: amountsDocument{
			Subtotal:       invoice.Amounts.Subtotal,
			Tax:            invoice.Amounts.Tax,
			DeliveryCharge: invoice.Amounts.DeliveryCharge,
			Discount:       invoice.Amounts.Discount,
			Total:          invoice.Amounts.Total,
		},
		TaxRateBp:     invoice.TaxRateBp,
		Currency:      invoice.Currency,
		PaymentStatus: string(invoice.PaymentStatus),
		PaymentRef:    invoice.PaymentRef,
		DocumentPath:  invoice.DocumentPath,
		IssuedAt:      invoice.IssuedAt.UTC(),
	}
	doc.Items = make([]orderItemDocument, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			MenuItemID:   item.MenuItemID,
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}

	if err := createDoc(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("invoices.create", err)
	}
	return nil
}

// FindByOrderID loads the invoice for an order.
func (r *InvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	ref, err := r.docRef(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, err
	}

	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.Invoice{}, pfirestore.WrapError("invoices.find", err)
	}

	var doc invoiceDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Invoice{}, fmt.Errorf("firestore invoices decode %s: %w", snap.Ref.ID, err)
	}

	invoice := domain.Invoice{
		OrderID:       snap.Ref.ID,
		Number:        doc.Number,
		CustomerName:  doc.CustomerName,
		CustomerEmail: doc.CustomerEmail,
		VendorName:    doc.VendorName,
		VendorEmail:   doc.VendorEmail,
		VendorGSTIN:   doc.VendorGSTIN,
		Amounts: domain.Amounts{
			Subtotal:       doc.Amounts.Subtotal,
			Tax:            doc.Amounts.Tax,
			DeliveryCharge: doc.Amounts.DeliveryCharge,
			Discount:       doc.Amounts.Discount,
			Total:          doc.Amounts.Total,
		},
		TaxRateBp:     doc.TaxRateBp,
		Currency:      doc.Currency,
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		PaymentRef:    doc.PaymentRef,
		DocumentPath:  doc.DocumentPath,
		IssuedAt:      doc.IssuedAt,
	}
	for _, item := range doc.Items {
		invoice.Items = append(invoice.Items, domain.OrderItem{
			MenuItemID:   item.MenuItemID,
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}
	return invoice, nil
}

func (r *InvoiceRepository) docRef(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("invoice repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("invoice repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(invoicesCollection).Doc(id), nil
}
