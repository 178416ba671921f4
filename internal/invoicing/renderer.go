// Package invoicing renders customer-facing invoice documents.
package invoicing

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/raileats/api/internal/domain"
)

const headerLine = "RailEats - Tax Invoice"

// Renderer produces the deterministic plain-text invoice document stored
// alongside the invoice record. Layout never depends on wall-clock state, so
// re-rendering the same invoice yields identical bytes.
type Renderer struct {
	printer *message.Printer
}

// NewRenderer constructs a Renderer with locale-aware number formatting.
func NewRenderer() *Renderer {
	return &Renderer{printer: message.NewPrinter(language.English)}
}

// Render lays out the invoice as plain text.
func (r *Renderer) Render(invoice domain.Invoice) ([]byte, error) {
	if invoice.OrderID == "" || invoice.Number == "" {
		return nil, errors.New("invoicing: order id and invoice number are required")
	}

	var buf bytes.Buffer
	line := strings.Repeat("=", 56)

	fmt.Fprintln(&buf, headerLine)
	fmt.Fprintln(&buf, line)
	fmt.Fprintf(&buf, "Invoice:   %s\n", invoice.Number)
	fmt.Fprintf(&buf, "Order:     %s\n", invoice.OrderID)
	fmt.Fprintf(&buf, "Issued:    %s\n", invoice.IssuedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintln(&buf, line)

	fmt.Fprintf(&buf, "Billed to: %s\n", invoice.CustomerName)
	if invoice.CustomerEmail != "" {
		fmt.Fprintf(&buf, "           %s\n", invoice.CustomerEmail)
	}
	fmt.Fprintf(&buf, "Vendor:    %s\n", invoice.VendorName)
	if invoice.VendorEmail != "" {
		fmt.Fprintf(&buf, "           %s\n", invoice.VendorEmail)
	}
	if invoice.VendorGSTIN != "" {
		fmt.Fprintf(&buf, "GSTIN:     %s\n", invoice.VendorGSTIN)
	}
	fmt.Fprintln(&buf, line)

	for _, item := range invoice.Items {
		fmt.Fprintf(&buf, "%d x %s\n", item.Quantity, item.Name)
		r.amountLine(&buf, fmt.Sprintf("  @ %s", r.money(item.UnitPrice, invoice.Currency)), item.Total, invoice.Currency)
	}
	fmt.Fprintln(&buf, strings.Repeat("-", 56))

	r.amountLine(&buf, "Subtotal", invoice.Amounts.Subtotal, invoice.Currency)
	r.amountLine(&buf, fmt.Sprintf("Tax (%s%%)", formatBp(invoice.TaxRateBp)), invoice.Amounts.Tax, invoice.Currency)
	r.amountLine(&buf, "Delivery", invoice.Amounts.DeliveryCharge, invoice.Currency)
	if invoice.Amounts.Discount > 0 {
		r.amountLine(&buf, "Discount", -invoice.Amounts.Discount, invoice.Currency)
	}
	fmt.Fprintln(&buf, strings.Repeat("-", 56))
	r.amountLine(&buf, "Total", invoice.Amounts.Total, invoice.Currency)
	fmt.Fprintln(&buf, line)

	fmt.Fprintf(&buf, "Payment:   %s", invoice.PaymentStatus)
	if invoice.PaymentRef != "" {
		fmt.Fprintf(&buf, " (ref %s)", invoice.PaymentRef)
	}
	fmt.Fprintln(&buf)

	return buf.Bytes(), nil
}

func (r *Renderer) amountLine(buf *bytes.Buffer, label string, paise int64, currency string) {
	fmt.Fprintf(buf, "%-12s %s\n", label, r.money(paise, currency))
}

func (r *Renderer) money(paise int64, currency string) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	value := r.printer.Sprintf("%d", paise/100)
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, value, paise%100)
}

// formatBp renders a basis-point rate as a percentage, trimming trailing zeros.
func formatBp(bp int64) string {
	whole := bp / 100
	frac := bp % 100
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%02d", whole, frac), "0")
}
