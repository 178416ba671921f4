package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/platform/httpx"
	"github.com/raileats/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
	maxStatusBodySize    = 8 * 1024
)

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the customer-facing /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.getTracking)
}

// OperatorRoutes registers the status and settlement endpoints used by vendor
// and delivery staff tooling. Callers mount these behind request signing.
func (h *OrderHandlers) OperatorRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}:status", h.updateStatus)
	r.Post("/orders/{orderID}:cod-paid", h.markCodPaid)
}

type createOrderItemRequest struct {
	MenuItemID   string `json:"menuItemId"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
}

type createOrderRequest struct {
	CustomerID           string                   `json:"customerId"`
	VendorID             string                   `json:"vendorId"`
	StationID            string                   `json:"stationId"`
	TrainID              string                   `json:"trainId"`
	PNR                  string                   `json:"pnr"`
	Coach                string                   `json:"coach"`
	Seat                 string                   `json:"seat"`
	DeliveryAt           string                   `json:"deliveryAt"`
	DeliveryInstructions string                   `json:"deliveryInstructions"`
	PaymentMethod        string                   `json:"paymentMethod"`
	Discount             int64                    `json:"discount"`
	Items                []createOrderItemRequest `json:"items"`
}

type updateStatusRequest struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
	ActorID string `json:"actorId"`
}

type markCodPaidRequest struct {
	Remarks string `json:"remarks"`
	ActorID string `json:"actorId"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerID: strings.TrimSpace(req.CustomerID),
		VendorID:   strings.TrimSpace(req.VendorID),
		StationID:  strings.TrimSpace(req.StationID),
		Journey: services.Journey{
			TrainID: strings.TrimSpace(req.TrainID),
			PNR:     strings.TrimSpace(req.PNR),
			Coach:   strings.TrimSpace(req.Coach),
			Seat:    strings.TrimSpace(req.Seat),
		},
		DeliveryInstructions: req.DeliveryInstructions,
		PaymentMethod:        services.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Discount:             req.Discount,
		ActorID:              strings.TrimSpace(req.CustomerID),
	}
	if raw := strings.TrimSpace(req.DeliveryAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deliveryAt must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DeliveryAt = &ts
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItemCommand{
			MenuItemID:   strings.TrimSpace(item.MenuItemID),
			Quantity:     item.Quantity,
			Instructions: item.Instructions,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, nil)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		VendorID:   strings.TrimSpace(query.Get("vendor_id")),
		StationID:  strings.TrimSpace(query.Get("station_id")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		filter.Status = domain.OrderStatus(raw)
	}
	if raw := strings.TrimSpace(query.Get("payment_status")); raw != "" {
		filter.PaymentStatus = domain.PaymentStatus(raw)
	}
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.PlacedAfter = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.PlacedBefore = &ts
	}

	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	opts := services.OrderReadOptions{
		IncludeTracking: parseBoolParam(r.URL.Query().Get("include_tracking")),
		VerifyMenuItems: parseBoolParam(r.URL.Query().Get("verify_items")),
	}

	order, trail, err := h.orders.GetOrder(ctx, orderID, opts)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, trail)})
}

func (h *OrderHandlers) getTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	trail, err := h.orders.GetTracking(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	entries := make([]trackingEntryPayload, 0, len(trail))
	for _, entry := range trail {
		entries = append(entries, buildTrackingEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, trackingResponse{Entries: entries})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxStatusBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  services.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Remarks: req.Remarks,
		ActorID: strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil)})
}

func (h *OrderHandlers) markCodPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req markCodPaidRequest
	body, err := readLimitedBody(r, maxStatusBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.MarkCodPaymentCompleted(ctx, services.MarkCodPaidCommand{
		OrderID: orderID,
		Remarks: req.Remarks,
		ActorID: strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	VendorID      string `json:"vendorId"`
	StationID     string `json:"stationId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"createdAt"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                   string                 `json:"id"`
	OrderNumber          string                 `json:"orderNumber"`
	CustomerID           string                 `json:"customerId"`
	VendorID             string                 `json:"vendorId"`
	StationID            string                 `json:"stationId"`
	Journey              *journeyPayload        `json:"journey,omitempty"`
	DeliveryAt           string                 `json:"deliveryAt,omitempty"`
	DeliveryInstructions string                 `json:"deliveryInstructions,omitempty"`
	Status               string                 `json:"status"`
	Amounts              amountsPayload         `json:"amounts"`
	PaymentStatus        string                 `json:"paymentStatus"`
	PaymentMethod        string                 `json:"paymentMethod"`
	GatewayOrderID       string                 `json:"gatewayOrderId,omitempty"`
	PaymentRef           string                 `json:"paymentRef,omitempty"`
	Items                []orderItemPayload     `json:"items"`
	Audit                *orderAuditPayload     `json:"audit,omitempty"`
	CreatedAt            string                 `json:"createdAt"`
	UpdatedAt            string                 `json:"updatedAt,omitempty"`
	SettledAt            string                 `json:"settledAt,omitempty"`
	Tracking             []trackingEntryPayload `json:"tracking,omitempty"`
}

type journeyPayload struct {
	TrainID string `json:"trainId,omitempty"`
	PNR     string `json:"pnr,omitempty"`
	Coach   string `json:"coach,omitempty"`
	Seat    string `json:"seat,omitempty"`
}

type amountsPayload struct {
	Subtotal       int64 `json:"subtotal"`
	Tax            int64 `json:"tax"`
	DeliveryCharge int64 `json:"deliveryCharge"`
	Discount       int64 `json:"discount"`
	Total          int64 `json:"total"`
}

type orderItemPayload struct {
	MenuItemID   string `json:"menuItemId"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	Total        int64  `json:"total"`
	Instructions string `json:"instructions,omitempty"`
}

type orderAuditPayload struct {
	CreatedBy *string `json:"createdBy,omitempty"`
	UpdatedBy *string `json:"updatedBy,omitempty"`
}

type trackingResponse struct {
	Entries []trackingEntryPayload `json:"entries"`
}

type trackingEntryPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Remarks   string `json:"remarks,omitempty"`
	ActorID   string `json:"actorId,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		VendorID:      order.VendorID,
		StationID:     order.StationID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Amounts.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order, trail []services.TrackingEntry) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		OrderNumber:          order.OrderNumber,
		CustomerID:           order.CustomerID,
		VendorID:             order.VendorID,
		StationID:            order.StationID,
		DeliveryAt:           formatTime(pointerTime(order.DeliveryAt)),
		DeliveryInstructions: order.DeliveryInstructions,
		Status:               string(order.Status),
		Amounts: amountsPayload{
			Subtotal:       order.Amounts.Subtotal,
			Tax:            order.Amounts.Tax,
			DeliveryCharge: order.Amounts.DeliveryCharge,
			Discount:       order.Amounts.Discount,
			Total:          order.Amounts.Total,
		},
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		SettledAt:     formatTime(pointerTime(order.SettledAt)),
	}

	if order.GatewayOrderID != nil {
		payload.GatewayOrderID = *order.GatewayOrderID
	}
	if order.PaymentRef != nil {
		payload.PaymentRef = *order.PaymentRef
	}

	journey := order.Journey
	if journey.TrainID != "" || journey.PNR != "" || journey.Coach != "" || journey.Seat != "" {
		payload.Journey = &journeyPayload{
			TrainID: journey.TrainID,
			PNR:     journey.PNR,
			Coach:   journey.Coach,
			Seat:    journey.Seat,
		}
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			MenuItemID:   item.MenuItemID,
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}

	if order.Audit.CreatedBy != nil || order.Audit.UpdatedBy != nil {
		payload.Audit = &orderAuditPayload{
			CreatedBy: order.Audit.CreatedBy,
			UpdatedBy: order.Audit.UpdatedBy,
		}
	}

	for _, entry := range trail {
		payload.Tracking = append(payload.Tracking, buildTrackingEntryPayload(entry))
	}

	return payload
}

func buildTrackingEntryPayload(entry services.TrackingEntry) trackingEntryPayload {
	payload := trackingEntryPayload{
		ID:        entry.ID,
		Status:    string(entry.Status),
		Remarks:   entry.Remarks,
		CreatedAt: formatTime(entry.CreatedAt),
		UpdatedAt: formatTime(entry.UpdatedAt),
	}
	if entry.ActorID != nil {
		payload.ActorID = *entry.ActorID
	}
	return payload
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrActorNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("actor_not_found", "actor not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDirectoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("reference_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderIntegrity):
		httpx.WriteError(ctx, w, httpx.NewError("order_integrity", "order references data that no longer exists", http.StatusInternalServerError))
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "payment signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_rejected", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func parseBoolParam(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
