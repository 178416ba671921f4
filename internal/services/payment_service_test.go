package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/payments"
)

type stubGateway struct {
	createIntentFn    func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	captureFn         func(ctx context.Context, req payments.CaptureRequest) (payments.PaymentDetails, error)
	verifySignatureFn func(callback payments.Callback) error
}

func (s *stubGateway) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if s.createIntentFn == nil {
		return payments.Intent{}, errors.New("unexpected CreateIntent call")
	}
	return s.createIntentFn(ctx, req)
}

func (s *stubGateway) Capture(ctx context.Context, req payments.CaptureRequest) (payments.PaymentDetails, error) {
	if s.captureFn == nil {
		return payments.PaymentDetails{}, errors.New("unexpected Capture call")
	}
	return s.captureFn(ctx, req)
}

func (s *stubGateway) VerifySignature(callback payments.Callback) error {
	if s.verifySignatureFn == nil {
		return nil
	}
	return s.verifySignatureFn(callback)
}

func gatewayOrderFixture() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "RE-2026-000042",
		CustomerID:    "cus_asha",
		VendorID:      "ven_rasoi",
		StationID:     "stn_jp",
		Status:        domain.OrderStatusPlaced,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodRazorpay,
		Amounts:       domain.Amounts{Subtotal: 25000, Tax: 1250, DeliveryCharge: 2000, Total: 28250},
		Items: []domain.OrderItem{
			{MenuItemID: "mi_thali", Name: "Veg Thali", Quantity: 2, UnitPrice: 10000, Total: 20000},
			{MenuItemID: "mi_lassi", Name: "Lassi", Quantity: 1, UnitPrice: 5000, Total: 5000},
		},
	}
}

func newPaymentService(t *testing.T, orders *stubOrderRepository, tracking *stubTrackingRepository, gateway payments.Gateway, publisher *recordingPublisher) PaymentService {
	t.Helper()
	return newPaymentServiceWithInvoices(t, orders, tracking, gateway, publisher, nil)
}

func newPaymentServiceWithInvoices(t *testing.T, orders *stubOrderRepository, tracking *stubTrackingRepository, gateway payments.Gateway, publisher *recordingPublisher, invoices InvoiceGenerator) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:   orders,
		Ledger:   newTestLedger(t, tracking),
		Pricing:  newTestPricing(t),
		Gateway:  gateway,
		KeyID:    "rzp_test_key",
		Clock:    fixedOrderClock,
		Events:   publisher,
		Invoices: invoices,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc
}

func TestCreateGatewayOrder(t *testing.T) {
	order := gatewayOrderFixture()
	orders := &stubOrderRepository{
		findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	var updated *domain.Order
	orders.updateFn = func(_ context.Context, o domain.Order) error {
		updated = &o
		return nil
	}
	gateway := &stubGateway{
		createIntentFn: func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
			if req.Amount != 28250 || req.Currency != "INR" {
				t.Fatalf("unexpected intent request %+v", req)
			}
			if req.Receipt != "RE-2026-000042" || req.Notes["orderId"] != "ord_1" {
				t.Fatalf("unexpected receipt/notes %+v", req)
			}
			return payments.Intent{ID: "order_Nxy123", Amount: req.Amount, Currency: req.Currency}, nil
		},
	}

	svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

	result, err := svc.CreateGatewayOrder(context.Background(), CreateGatewayOrderCommand{OrderID: "ord_1", ActorID: "cus_asha"})
	if err != nil {
		t.Fatalf("CreateGatewayOrder: %v", err)
	}
	if result.GatewayOrderID != "order_Nxy123" || result.Amount != 28250 || result.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected result %+v", result)
	}
	if updated == nil || updated.GatewayOrderID == nil || *updated.GatewayOrderID != "order_Nxy123" {
		t.Fatalf("gateway order id not persisted: %#v", updated)
	}
}

func TestCreateGatewayOrderGuards(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(order *domain.Order)
	}{
		{
			name:   "cash order",
			mutate: func(o *domain.Order) { o.PaymentMethod = domain.PaymentMethodCOD },
		},
		{
			name:   "already settled",
			mutate: func(o *domain.Order) { o.PaymentStatus = domain.PaymentStatusCaptured },
		},
		{
			name:   "no items",
			mutate: func(o *domain.Order) { o.Items = nil },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := gatewayOrderFixture()
			tc.mutate(&order)
			orders := &stubOrderRepository{
				findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
					return order, nil
				},
			}
			svc := newPaymentService(t, orders, &stubTrackingRepository{}, &stubGateway{}, &recordingPublisher{})

			_, err := svc.CreateGatewayOrder(context.Background(), CreateGatewayOrderCommand{OrderID: "ord_1"})
			if !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("expected ErrOrderInvalidState, got %v", err)
			}
		})
	}
}

func TestCreateGatewayOrderDetectsTamperedTotal(t *testing.T) {
	order := gatewayOrderFixture()
	order.Amounts.Total = 100
	orders := &stubOrderRepository{
		findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newPaymentService(t, orders, &stubTrackingRepository{}, &stubGateway{}, &recordingPublisher{})

	_, err := svc.CreateGatewayOrder(context.Background(), CreateGatewayOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderIntegrity) {
		t.Fatalf("expected ErrOrderIntegrity, got %v", err)
	}
}

func TestCreateGatewayOrderReusesExistingIntent(t *testing.T) {
	order := gatewayOrderFixture()
	existing := "order_Existing1"
	order.GatewayOrderID = &existing
	orders := &stubOrderRepository{
		findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(_ context.Context, _ domain.Order) error {
			t.Fatal("reused intents must not write")
			return nil
		},
	}
	gateway := &stubGateway{
		createIntentFn: func(_ context.Context, _ payments.IntentRequest) (payments.Intent, error) {
			t.Fatal("a new intent must not be minted")
			return payments.Intent{}, nil
		},
	}

	svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

	result, err := svc.CreateGatewayOrder(context.Background(), CreateGatewayOrderCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateGatewayOrder: %v", err)
	}
	if result.GatewayOrderID != existing {
		t.Fatalf("expected the existing intent %q, got %q", existing, result.GatewayOrderID)
	}
}

func TestCreateGatewayOrderMapsGatewayErrors(t *testing.T) {
	cases := []struct {
		name       string
		gatewayErr error
		want       error
	}{
		{name: "unavailable", gatewayErr: payments.ErrGatewayUnavailable, want: ErrGatewayUnavailable},
		{name: "rejected", gatewayErr: payments.ErrGatewayRejected, want: ErrGatewayRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := gatewayOrderFixture()
			orders := &stubOrderRepository{
				findByIDFn: func(_ context.Context, _ string) (domain.Order, error) {
					return order, nil
				},
			}
			gateway := &stubGateway{
				createIntentFn: func(_ context.Context, _ payments.IntentRequest) (payments.Intent, error) {
					return payments.Intent{}, tc.gatewayErr
				},
			}
			svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

			_, err := svc.CreateGatewayOrder(context.Background(), CreateGatewayOrderCommand{OrderID: "ord_1"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyAndCapturePayment(t *testing.T) {
	order := gatewayOrderFixture()
	gatewayID := "order_Nxy123"
	order.GatewayOrderID = &gatewayID
	order.Status = domain.OrderStatusDelivered

	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != gatewayID {
				return domain.Order{}, stubRepositoryError{notFound: true}
			}
			return order, nil
		},
	}
	var updated *domain.Order
	orders.updateFn = func(_ context.Context, o domain.Order) error {
		updated = &o
		return nil
	}
	var tracked *domain.TrackingEntry
	tracking := &stubTrackingRepository{
		appendFn: func(_ context.Context, entry domain.TrackingEntry) error {
			tracked = &entry
			return nil
		},
	}
	gateway := &stubGateway{
		captureFn: func(_ context.Context, req payments.CaptureRequest) (payments.PaymentDetails, error) {
			if req.PaymentID != "pay_ABC" || req.Amount != 28250 {
				t.Fatalf("unexpected capture request %+v", req)
			}
			return payments.PaymentDetails{PaymentID: "pay_ABC", Status: payments.StatusCaptured}, nil
		},
	}
	publisher := &recordingPublisher{}
	invoices := &stubInvoiceGenerator{}

	svc := newPaymentServiceWithInvoices(t, orders, tracking, gateway, publisher, invoices)

	result, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: gatewayID,
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	})
	if err != nil {
		t.Fatalf("VerifyAndCapturePayment: %v", err)
	}
	if result.PaymentStatus != domain.PaymentStatusCaptured {
		t.Fatalf("payment status = %s, want captured", result.PaymentStatus)
	}
	if result.PaymentRef == nil || *result.PaymentRef != "pay_ABC" {
		t.Fatalf("unexpected payment ref %#v", result.PaymentRef)
	}
	if result.SettledAt == nil || !result.SettledAt.Equal(fixedOrderClock()) {
		t.Fatalf("unexpected settled time %#v", result.SettledAt)
	}
	if updated == nil {
		t.Fatal("order was not persisted")
	}
	if tracked == nil || tracked.Remarks != "online payment captured" {
		t.Fatalf("unexpected tracking row %#v", tracked)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "order.payment.settled" {
		t.Fatalf("unexpected events %#v", publisher.events)
	}
	if len(invoices.commands) != 1 || invoices.commands[0].OrderID != "ord_1" {
		t.Fatalf("unexpected invoice commands %#v", invoices.commands)
	}
}

func TestVerifyAndCapturePaymentLosesSettlementRace(t *testing.T) {
	order := gatewayOrderFixture()
	gatewayID := "order_Nxy123"
	order.GatewayOrderID = &gatewayID

	reads := 0
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			reads++
			current := order
			// A concurrent callback settles the order between the guard
			// check and the transaction's own read.
			if reads > 1 {
				current.PaymentStatus = domain.PaymentStatusCaptured
			}
			return current, nil
		},
		updateFn: func(_ context.Context, _ domain.Order) error {
			t.Fatal("order must not be written when the payment is already settled")
			return nil
		},
	}
	gateway := &stubGateway{
		captureFn: func(_ context.Context, _ payments.CaptureRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{PaymentID: "pay_ABC", Status: payments.StatusCaptured}, nil
		},
	}
	publisher := &recordingPublisher{}
	invoices := &stubInvoiceGenerator{}

	svc := newPaymentServiceWithInvoices(t, orders, &stubTrackingRepository{}, gateway, publisher, invoices)

	_, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: gatewayID,
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(publisher.events) != 0 || len(invoices.commands) != 0 {
		t.Fatalf("no event or invoice expected, got %#v / %#v", publisher.events, invoices.commands)
	}
}

func TestVerifyAndCapturePaymentReadsBeforeWriting(t *testing.T) {
	order := gatewayOrderFixture()
	gatewayID := "order_Nxy123"
	order.GatewayOrderID = &gatewayID

	var calls []string
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			calls = append(calls, "order lookup")
			return order, nil
		},
	}
	orders.updateFn = func(_ context.Context, _ domain.Order) error {
		calls = append(calls, "order update")
		return nil
	}
	tracking := &stubTrackingRepository{
		findLatestFn: func(_ context.Context, _ string) (domain.TrackingEntry, error) {
			calls = append(calls, "trail lookup")
			return domain.TrackingEntry{}, stubRepositoryError{notFound: true}
		},
		appendFn: func(_ context.Context, _ domain.TrackingEntry) error {
			calls = append(calls, "trail append")
			return nil
		},
	}
	gateway := &stubGateway{
		captureFn: func(_ context.Context, _ payments.CaptureRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{PaymentID: "pay_ABC", Status: payments.StatusCaptured}, nil
		},
	}

	svc := newPaymentService(t, orders, tracking, gateway, &recordingPublisher{})

	if _, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: gatewayID,
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	}); err != nil {
		t.Fatalf("VerifyAndCapturePayment: %v", err)
	}

	// Firestore transactions reject reads after a write, so both lookups
	// have to precede the order update.
	want := []string{"order lookup", "order lookup", "trail lookup", "order update", "trail append"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestVerifyAndCapturePaymentRejectsTamperedSignature(t *testing.T) {
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			t.Fatal("a tampered callback must not read the store")
			return domain.Order{}, nil
		},
	}
	gateway := &stubGateway{
		verifySignatureFn: func(_ payments.Callback) error {
			return payments.ErrSignatureMismatch
		},
	}
	svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

	_, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: "order_Nxy123",
		PaymentID:      "pay_ABC",
		Signature:      "bogus",
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndCapturePaymentAlreadySettled(t *testing.T) {
	order := gatewayOrderFixture()
	order.PaymentStatus = domain.PaymentStatusCaptured
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newPaymentService(t, orders, &stubTrackingRepository{}, &stubGateway{}, &recordingPublisher{})

	_, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: "order_Nxy123",
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestVerifyAndCapturePaymentCaptureFailure(t *testing.T) {
	order := gatewayOrderFixture()
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(_ context.Context, _ domain.Order) error {
			t.Fatal("a failed capture must not write")
			return nil
		},
	}
	gateway := &stubGateway{
		captureFn: func(_ context.Context, _ payments.CaptureRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, payments.ErrGatewayRejected
		},
	}
	svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

	_, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: "order_Nxy123",
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
}

func TestVerifyAndCapturePaymentNonCapturedStatus(t *testing.T) {
	order := gatewayOrderFixture()
	orders := &stubOrderRepository{
		findByGatewayFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	gateway := &stubGateway{
		captureFn: func(_ context.Context, _ payments.CaptureRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{PaymentID: "pay_ABC", Status: payments.StatusAuthorized}, nil
		},
	}
	svc := newPaymentService(t, orders, &stubTrackingRepository{}, gateway, &recordingPublisher{})

	_, err := svc.VerifyAndCapturePayment(context.Background(), VerifyPaymentCommand{
		GatewayOrderID: "order_Nxy123",
		PaymentID:      "pay_ABC",
		Signature:      "deadbeef",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
}
