package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/payments"
	"github.com/raileats/api/internal/repositories"
)

var (
	// ErrInvalidSignature signals the checkout callback failed signature verification.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrGatewayUnavailable signals the payment gateway could not be reached.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrGatewayRejected signals the gateway declined the operation.
	ErrGatewayRejected = errors.New("payment: gateway rejected")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Ledger     *TrackingLedger
	Pricing    *PricingEngine
	Gateway    payments.Gateway
	KeyID      string
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Events     OrderEventPublisher
	Invoices   InvoiceGenerator
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	ledger     *TrackingLedger
	pricing    *PricingEngine
	gateway    payments.Gateway
	keyID      string
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	invoices   InvoiceGenerator
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("payment service: tracking ledger is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("payment service: pricing engine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		pricing:    deps.Pricing,
		gateway:    deps.Gateway,
		keyID:      strings.TrimSpace(deps.KeyID),
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events:   deps.Events,
		invoices: deps.Invoices,
		logger:   logger,
	}, nil
}

func (s *paymentService) CreateGatewayOrder(ctx context.Context, cmd CreateGatewayOrderCommand) (GatewayOrder, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return GatewayOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return GatewayOrder{}, mapOrderRepositoryError(err)
	}

	if order.PaymentMethod != domain.PaymentMethodRazorpay {
		return GatewayOrder{}, fmt.Errorf("%w: order %s does not use the payment gateway", ErrOrderInvalidState, id)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return GatewayOrder{}, fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
	}
	if len(order.Items) == 0 {
		return GatewayOrder{}, fmt.Errorf("%w: order has no items to charge for", ErrOrderInvalidState)
	}

	// Recompute the total from the stored snapshots before money leaves the
	// system; a mismatch means the aggregate was corrupted after placement.
	recomputed, err := s.pricing.Compute(order.Items, order.Amounts.Discount)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: %v", ErrOrderIntegrity, err)
	}
	if recomputed.Total != order.Amounts.Total {
		return GatewayOrder{}, fmt.Errorf("%w: stored total %d does not match recomputed %d", ErrOrderIntegrity, order.Amounts.Total, recomputed.Total)
	}

	// An order that already holds an open gateway order is returned as-is so
	// retried checkouts do not mint duplicate intents.
	if order.GatewayOrderID != nil && *order.GatewayOrderID != "" {
		return GatewayOrder{
			OrderID:        order.ID,
			GatewayOrderID: *order.GatewayOrderID,
			Amount:         order.Amounts.Total,
			Currency:       s.pricing.Currency(),
			KeyID:          s.keyID,
		}, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:   order.Amounts.Total,
		Currency: s.pricing.Currency(),
		Receipt:  order.OrderNumber,
		Notes:    map[string]string{"orderId": order.ID},
	})
	if err != nil {
		return GatewayOrder{}, mapGatewayError(err)
	}

	now := s.clock()
	actor := strings.TrimSpace(cmd.ActorID)

	order.GatewayOrderID = &intent.ID
	order.UpdatedAt = now
	if actor != "" {
		order.Audit.UpdatedBy = &actor
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return GatewayOrder{}, mapOrderRepositoryError(err)
	}

	return GatewayOrder{
		OrderID:        order.ID,
		GatewayOrderID: intent.ID,
		Amount:         order.Amounts.Total,
		Currency:       s.pricing.Currency(),
		KeyID:          s.keyID,
	}, nil
}

func (s *paymentService) VerifyAndCapturePayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if gatewayOrderID == "" || paymentID == "" {
		return Order{}, fmt.Errorf("%w: gateway order id and payment id are required", ErrOrderInvalidInput)
	}

	// Signature first: nothing is read or written for a tampered callback.
	if err := s.gateway.VerifySignature(payments.Callback{
		IntentID:  gatewayOrderID,
		PaymentID: paymentID,
		Signature: strings.TrimSpace(cmd.Signature),
	}); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrInvalidSignature, gatewayOrderID)
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if order.PaymentStatus != domain.PaymentStatusPending {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
	}

	details, err := s.gateway.Capture(ctx, payments.CaptureRequest{
		PaymentID: paymentID,
		Amount:    order.Amounts.Total,
		Currency:  s.pricing.Currency(),
	})
	if err != nil {
		return Order{}, mapGatewayError(err)
	}
	if details.Status != payments.StatusCaptured {
		return Order{}, fmt.Errorf("%w: capture returned status %s", ErrGatewayRejected, details.Status)
	}

	now := s.clock()
	actor := strings.TrimSpace(cmd.ActorID)

	order.PaymentStatus = domain.PaymentStatusCaptured
	order.PaymentRef = &details.PaymentID
	order.SettledAt = &now
	order.UpdatedAt = now
	if actor != "" {
		order.Audit.UpdatedBy = &actor
	}

	// All reads run before the first write: Firestore rejects reads issued
	// after a buffered write in a transaction. The re-read also closes the
	// race where two callbacks both pass the pending check above.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByGatewayOrderID(txCtx, gatewayOrderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if current.PaymentStatus != domain.PaymentStatusPending {
			return fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, current.PaymentStatus)
		}
		transition, err := s.ledger.Stage(txCtx, order.ID, order.Status, "online payment captured", actor)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return transition.Commit(txCtx)
	})
	if err != nil {
		return Order{}, err
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventPaymentSettled,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       actor,
		OccurredAt:    now,
	})

	issueOrderInvoice(ctx, s.invoices, s.logger, order.ID, actor)

	return order, nil
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrSignatureMismatch):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.Is(err, payments.ErrGatewayRejected):
		return fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	return err
}
