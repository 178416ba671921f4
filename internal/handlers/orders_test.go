package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/services"
)

type stubOrderService struct {
	createOrderFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getOrderFn    func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, []services.TrackingEntry, error)
	listOrdersFn  func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn      func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	codFn         func(ctx context.Context, cmd services.MarkCodPaidCommand) (services.Order, error)
	trackingFn    func(ctx context.Context, orderID string) ([]services.TrackingEntry, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createOrderFn == nil {
		return services.Order{}, nil
	}
	return s.createOrderFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, []services.TrackingEntry, error) {
	if s.getOrderFn == nil {
		return services.Order{}, nil, nil
	}
	return s.getOrderFn(ctx, orderID, opts)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listOrdersFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listOrdersFn(ctx, filter)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn == nil {
		return services.Order{}, nil
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubOrderService) MarkCodPaymentCompleted(ctx context.Context, cmd services.MarkCodPaidCommand) (services.Order, error) {
	if s.codFn == nil {
		return services.Order{}, nil
	}
	return s.codFn(ctx, cmd)
}

func (s *stubOrderService) GetTracking(ctx context.Context, orderID string) ([]services.TrackingEntry, error) {
	if s.trackingFn == nil {
		return nil, nil
	}
	return s.trackingFn(ctx, orderID)
}

var _ services.OrderService = (*stubOrderService)(nil)

func sampleOrder() services.Order {
	return services.Order{
		ID:            "ord_1",
		OrderNumber:   "RE-2026-000042",
		CustomerID:    "cus_asha",
		VendorID:      "ven_rasoi",
		StationID:     "stn_jp",
		Status:        domain.OrderStatusPlaced,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		Amounts:       domain.Amounts{Subtotal: 25000, Tax: 1250, DeliveryCharge: 2000, Total: 28250},
		Items: []domain.OrderItem{
			{MenuItemID: "mi_thali", Name: "Veg Thali", Quantity: 2, UnitPrice: 10000, Total: 20000},
		},
		CreatedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func newOrdersServer(t *testing.T, svc services.OrderService) *httptest.Server {
	t.Helper()
	handlers := NewOrderHandlers(svc)
	router := NewRouter(
		WithOrderRoutes(handlers.Routes),
		WithOperatorRoutes(handlers.OperatorRoutes),
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createOrderFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	server := newOrdersServer(t, svc)

	body := `{
		"customerId": "cus_asha",
		"vendorId": "ven_rasoi",
		"stationId": "stn_jp",
		"trainId": "trn_12956",
		"pnr": "8812345678",
		"coach": "B2",
		"seat": "41",
		"paymentMethod": "cod",
		"items": [{"menuItemId": "mi_thali", "quantity": 2}]
	}`
	resp, err := http.Post(server.URL+"/api/v1/orders", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /orders: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}
	if captured.CustomerID != "cus_asha" || captured.VendorID != "ven_rasoi" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("payment method not normalised: %q", captured.PaymentMethod)
	}
	if captured.Journey.TrainID != "trn_12956" || captured.Journey.Seat != "41" {
		t.Fatalf("journey not forwarded: %+v", captured.Journey)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("items not forwarded: %+v", captured.Items)
	}

	var payload struct {
		Order struct {
			ID      string `json:"id"`
			Amounts struct {
				Total int64 `json:"total"`
			} `json:"amounts"`
		} `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Order.ID != "ord_1" || payload.Order.Amounts.Total != 28250 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCreateOrderEndpointRejectsBadJSON(t *testing.T) {
	server := newOrdersServer(t, &stubOrderService{})

	resp, err := http.Post(server.URL+"/api/v1/orders", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST /orders: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestCreateOrderEndpointMapsValidationError(t *testing.T) {
	svc := &stubOrderService{
		createOrderFn: func(_ context.Context, _ services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidInput
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Post(server.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"items":[]}`))
	if err != nil {
		t.Fatalf("POST /orders: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestCreateOrderEndpointMapsDirectoryMiss(t *testing.T) {
	svc := &stubOrderService{
		createOrderFn: func(_ context.Context, _ services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: vendor ven_ghost does not exist", services.ErrDirectoryNotFound)
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Post(server.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"customerId":"cus_asha","vendorId":"ven_ghost","stationId":"stn_jp","items":[{"menuItemId":"mi_thali","quantity":1}]}`))
	if err != nil {
		t.Fatalf("POST /orders: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error != "reference_not_found" {
		t.Fatalf("unexpected error code %q", payload.Error)
	}
}

func TestListOrdersEndpointForwardsFilters(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listOrdersFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "token123",
			}, nil
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Get(server.URL + "/api/v1/orders?customer_id=cus_asha&status=placed&page_size=5&page_token=abc")
	if err != nil {
		t.Fatalf("GET /orders: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if captured.CustomerID != "cus_asha" || captured.Status != domain.OrderStatusPlaced {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "abc" {
		t.Fatalf("pagination not forwarded: %+v", captured.Pagination)
	}

	var payload struct {
		Items         []json.RawMessage `json:"items"`
		NextPageToken string            `json:"nextPageToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.NextPageToken != "token123" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	svc := &stubOrderService{
		getOrderFn: func(_ context.Context, _ string, _ services.OrderReadOptions) (services.Order, []services.TrackingEntry, error) {
			return services.Order{}, nil, services.ErrOrderNotFound
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Get(server.URL + "/api/v1/orders/ord_ghost")
	if err != nil {
		t.Fatalf("GET /orders/{id}: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestGetOrderEndpointIncludesTracking(t *testing.T) {
	actor := "usr_ops"
	svc := &stubOrderService{
		getOrderFn: func(_ context.Context, _ string, opts services.OrderReadOptions) (services.Order, []services.TrackingEntry, error) {
			if !opts.IncludeTracking {
				t.Fatal("include_tracking query must map to OrderReadOptions")
			}
			return sampleOrder(), []services.TrackingEntry{
				{ID: "trk_1", Status: domain.OrderStatusPlaced, ActorID: &actor},
			}, nil
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Get(server.URL + "/api/v1/orders/ord_1?include_tracking=true")
	if err != nil {
		t.Fatalf("GET /orders/{id}: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Order struct {
			Tracking []struct {
				ID      string `json:"id"`
				ActorID string `json:"actorId"`
			} `json:"tracking"`
		} `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Order.Tracking) != 1 || payload.Order.Tracking[0].ActorID != "usr_ops" {
		t.Fatalf("unexpected tracking payload %+v", payload.Order.Tracking)
	}
}

func TestGetTrackingEndpoint(t *testing.T) {
	svc := &stubOrderService{
		trackingFn: func(_ context.Context, orderID string) ([]services.TrackingEntry, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return []services.TrackingEntry{
				{ID: "trk_1", Status: domain.OrderStatusPlaced},
				{ID: "trk_2", Status: domain.OrderStatusPreparing, Remarks: "kitchen started"},
			}, nil
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Get(server.URL + "/api/v1/orders/ord_1/tracking")
	if err != nil {
		t.Fatalf("GET /orders/{id}/tracking: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Entries []struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Remarks string `json:"remarks"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Entries) != 2 || payload.Entries[1].Remarks != "kitchen started" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	svc := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPreparing
			return order, nil
		},
	}
	server := newOrdersServer(t, svc)

	body := `{"status":"PREPARING","remarks":"kitchen started","actorId":"usr_vendor"}`
	resp, err := http.Post(server.URL+"/api/v1/operator/orders/ord_1:status", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST :status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if captured.OrderID != "ord_1" || captured.Status != domain.OrderStatusPreparing {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ActorID != "usr_vendor" {
		t.Fatalf("actor not forwarded: %q", captured.ActorID)
	}
}

func TestUpdateStatusEndpointConflict(t *testing.T) {
	svc := &stubOrderService{
		updateFn: func(_ context.Context, _ services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Post(server.URL+"/api/v1/operator/orders/ord_1:status", "application/json", strings.NewReader(`{"status":"preparing"}`))
	if err != nil {
		t.Fatalf("POST :status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.StatusCode)
	}
}

func TestMarkCodPaidEndpoint(t *testing.T) {
	var captured services.MarkCodPaidCommand
	svc := &stubOrderService{
		codFn: func(_ context.Context, cmd services.MarkCodPaidCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			ref := "COD_ord_1"
			order.PaymentStatus = domain.PaymentStatusCompleted
			order.PaymentRef = &ref
			return order, nil
		},
	}
	server := newOrdersServer(t, svc)

	resp, err := http.Post(server.URL+"/api/v1/operator/orders/ord_1:cod-paid", "application/json", strings.NewReader(`{"actorId":"usr_runner","remarks":"collected at coach B2"}`))
	if err != nil {
		t.Fatalf("POST :cod-paid: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "usr_runner" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Remarks != "collected at coach B2" {
		t.Fatalf("remarks not forwarded: %+v", captured)
	}

	var payload struct {
		Order struct {
			PaymentStatus string `json:"paymentStatus"`
			PaymentRef    string `json:"paymentRef"`
		} `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Order.PaymentStatus != "completed" || payload.Order.PaymentRef != "COD_ord_1" {
		t.Fatalf("unexpected payload %+v", payload.Order)
	}
}
