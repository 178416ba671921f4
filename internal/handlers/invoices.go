package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/raileats/api/internal/platform/httpx"
	"github.com/raileats/api/internal/services"
)

// InvoiceHandlers exposes invoice generation and lookup endpoints.
type InvoiceHandlers struct {
	invoices services.InvoiceService
}

// NewInvoiceHandlers constructs a new InvoiceHandlers instance.
func NewInvoiceHandlers(invoices services.InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{invoices: invoices}
}

// OrderRoutes registers the invoice lookup endpoint nested under /orders.
func (h *InvoiceHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}/invoice", h.getInvoice)
}

// OperatorRoutes registers invoice generation used by back-office tooling.
func (h *InvoiceHandlers) OperatorRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/invoice", h.generateInvoice)
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	OrderID       string             `json:"orderId"`
	Number        string             `json:"number"`
	CustomerName  string             `json:"customerName"`
	CustomerEmail string             `json:"customerEmail,omitempty"`
	VendorName    string             `json:"vendorName"`
	VendorEmail   string             `json:"vendorEmail,omitempty"`
	VendorGSTIN   string             `json:"vendorGstin,omitempty"`
	Items         []orderItemPayload `json:"items"`
	Amounts       amountsPayload     `json:"amounts"`
	TaxRateBp     int64              `json:"taxRateBp"`
	Currency      string             `json:"currency"`
	PaymentStatus string             `json:"paymentStatus"`
	PaymentRef    string             `json:"paymentRef,omitempty"`
	DocumentPath  string             `json:"documentPath,omitempty"`
	IssuedAt      string             `json:"issuedAt"`
}

type generateInvoiceRequest struct {
	ActorID string `json:"actorId"`
}

func (h *InvoiceHandlers) generateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req generateInvoiceRequest
	if body, err := readLimitedBody(r, maxStatusBodySize); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	invoice, err := h.invoices.GenerateInvoice(ctx, services.GenerateInvoiceCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.GetInvoice(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	payload := invoicePayload{
		OrderID:       invoice.OrderID,
		Number:        invoice.Number,
		CustomerName:  invoice.CustomerName,
		CustomerEmail: invoice.CustomerEmail,
		VendorName:    invoice.VendorName,
		VendorEmail:   invoice.VendorEmail,
		VendorGSTIN:   invoice.VendorGSTIN,
		Amounts: amountsPayload{
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
		IssuedAt:      formatTime(invoice.IssuedAt),
	}
	for _, item := range invoice.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			MenuItemID:   item.MenuItemID,
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}
	return payload
}
