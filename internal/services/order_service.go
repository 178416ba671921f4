package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentSettled = "order.payment.settled"

	orderIDPrefix       = "ord_"
	codPaymentRefPrefix = "COD_"

	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrActorNotFound indicates a referenced customer or acting user does not exist.
	ErrActorNotFound = errors.New("order: actor not found")
	// ErrDirectoryNotFound indicates a referenced vendor, station, train, or menu item does not exist.
	ErrDirectoryNotFound = errors.New("order: referenced entity not found")
	// ErrOrderInvalidState indicates the operation is not allowed in the order's current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderIntegrity indicates the order references directory rows that no longer exist.
	ErrOrderIntegrity = errors.New("order: integrity violation")
	// ErrOrderConflict indicates duplicate writes or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Directory   repositories.DirectoryRepository
	Counters    repositories.CounterRepository
	Ledger      *TrackingLedger
	Pricing     *PricingEngine
	UnitOfWork  repositories.UnitOfWork
	Policy      TransitionPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Invoices    InvoiceGenerator
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	directory  repositories.DirectoryRepository
	counters   repositories.CounterRepository
	ledger     *TrackingLedger
	pricing    *PricingEngine
	unitOfWork repositories.UnitOfWork
	policy     TransitionPolicy
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	invoices   InvoiceGenerator
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("order service: directory repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: tracking ledger is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	policy := deps.Policy
	if policy == nil {
		policy = AllowAllTransitions
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		directory:  deps.Directory,
		counters:   deps.Counters,
		ledger:     deps.Ledger,
		pricing:    deps.Pricing,
		unitOfWork: unit,
		policy:     policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		invoices:  deps.Invoices,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	vendorID := strings.TrimSpace(cmd.VendorID)
	stationID := strings.TrimSpace(cmd.StationID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if vendorID == "" {
		return Order{}, fmt.Errorf("%w: vendor id is required", ErrOrderInvalidInput)
	}
	if stationID == "" {
		return Order{}, fmt.Errorf("%w: station id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	method := cmd.PaymentMethod
	if strings.TrimSpace(string(method)) == "" {
		method = domain.PaymentMethodCOD
	}

	if _, err := s.directory.FindCustomer(ctx, customerID); err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrActorNotFound, customerID)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	vendor, err := s.directory.FindVendor(ctx, vendorID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: vendor %s does not exist", ErrDirectoryNotFound, vendorID)
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if !vendor.IsActive {
		return Order{}, fmt.Errorf("%w: vendor %s is not accepting orders", ErrOrderInvalidInput, vendorID)
	}

	if _, err := s.directory.FindStation(ctx, stationID); err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: station %s does not exist", ErrDirectoryNotFound, stationID)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if trainID := strings.TrimSpace(cmd.Journey.TrainID); trainID != "" {
		if _, err := s.directory.FindTrain(ctx, trainID); err != nil {
			if isRepoNotFound(err) {
				return Order{}, fmt.Errorf("%w: train %s does not exist", ErrDirectoryNotFound, trainID)
			}
			return Order{}, s.mapRepositoryError(err)
		}
	}

	items, err := s.snapshotItems(ctx, vendorID, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	// Amounts are always computed server-side from the menu snapshots;
	// caller-supplied totals are never accepted.
	amounts, err := s.pricing.Compute(items, cmd.Discount)
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, err
	}

	now := s.clock()
	actor := strings.TrimSpace(cmd.ActorID)

	order := Order{
		ID:                   orderIDPrefix + s.newID(),
		CustomerID:           customerID,
		VendorID:             vendorID,
		StationID:            stationID,
		Journey:              trimJourney(cmd.Journey),
		DeliveryInstructions: strings.TrimSpace(s.sanitizer.Sanitize(cmd.DeliveryInstructions)),
		Status:               domain.OrderStatusPlaced,
		Amounts:              amounts,
		PaymentStatus:        domain.PaymentStatusPending,
		PaymentMethod:        method,
		Items:                items,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if cmd.DeliveryAt != nil {
		at := cmd.DeliveryAt.UTC()
		order.DeliveryAt = &at
	}
	if actor != "" {
		order.Audit.CreatedBy = &actor
		order.Audit.UpdatedBy = &actor
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	// Firestore transactions require all reads before any write, so the
	// ledger's latest-row lookup is staged ahead of the order insert.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		transition, err := s.ledger.Stage(txCtx, order.ID, order.Status, "Order placed successfully", actor)
		if err != nil {
			return err
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return transition.Commit(txCtx)
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       actor,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, []TrackingEntry, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, nil, s.mapRepositoryError(err)
	}

	if opts.VerifyMenuItems {
		for _, item := range order.Items {
			if _, err := s.directory.FindMenuItem(ctx, order.VendorID, item.MenuItemID); err != nil {
				if isRepoNotFound(err) {
					return Order{}, nil, fmt.Errorf("%w: menu item %s no longer exists", ErrOrderIntegrity, item.MenuItemID)
				}
				return Order{}, nil, s.mapRepositoryError(err)
			}
		}
	}

	var trail []TrackingEntry
	if opts.IncludeTracking {
		trail, err = s.ledger.Trail(ctx, id)
		if err != nil {
			return Order{}, nil, s.mapRepositoryError(err)
		}
	}

	return order, trail, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	if previous != target && !s.policy(previous, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, previous, target)
	}

	actor, err := s.resolveActor(ctx, cmd.ActorID)
	if err != nil {
		return Order{}, err
	}
	now := s.clock()

	order.Status = target
	order.UpdatedAt = now
	if actor != "" {
		order.Audit.UpdatedBy = &actor
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		transition, err := s.ledger.Stage(txCtx, order.ID, target, cmd.Remarks, actor)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return transition.Commit(txCtx)
	})
	if err != nil {
		return Order{}, err
	}

	if previous != target {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventStatusChanged,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Status:        string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			ActorID:       actor,
			OccurredAt:    now,
		})
	}

	return order, nil
}

func (s *orderService) MarkCodPaymentCompleted(ctx context.Context, cmd MarkCodPaidCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.PaymentMethod != domain.PaymentMethodCOD {
		return Order{}, fmt.Errorf("%w: order %s is not cash-on-delivery", ErrOrderInvalidState, id)
	}
	if order.PaymentStatus.Terminal() {
		return Order{}, fmt.Errorf("%w: payment already settled", ErrOrderInvalidState)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidState)
	}

	actor, err := s.resolveActor(ctx, cmd.ActorID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	paymentRef := codPaymentRefPrefix + order.ID
	remarks := strings.TrimSpace(cmd.Remarks)
	if remarks == "" {
		remarks = "cash payment received"
	}

	order.PaymentStatus = domain.PaymentStatusCompleted
	order.PaymentRef = &paymentRef
	order.SettledAt = &now
	order.UpdatedAt = now
	if actor != "" {
		order.Audit.UpdatedBy = &actor
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// Transactional re-read guards against a concurrent settlement that
		// committed after the check above.
		current, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.PaymentStatus.Terminal() {
			return fmt.Errorf("%w: payment already settled", ErrOrderInvalidState)
		}
		transition, err := s.ledger.Stage(txCtx, order.ID, order.Status, remarks, actor)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return transition.Commit(txCtx)
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
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

func (s *orderService) GetTracking(ctx context.Context, orderID string) ([]TrackingEntry, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, id); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	trail, err := s.ledger.Trail(ctx, id)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return trail, nil
}

func (s *orderService) snapshotItems(ctx context.Context, vendorID string, lines []CreateOrderItemCommand) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		menuItemID := strings.TrimSpace(line.MenuItemID)
		if menuItemID == "" {
			return nil, fmt.Errorf("%w: item %d menu item id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}

		menuItem, err := s.directory.FindMenuItem(ctx, vendorID, menuItemID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: menu item %s does not exist for vendor %s", ErrDirectoryNotFound, menuItemID, vendorID)
			}
			return nil, s.mapRepositoryError(err)
		}
		if !menuItem.IsAvailable {
			return nil, fmt.Errorf("%w: menu item %s is unavailable", ErrOrderInvalidInput, menuItemID)
		}

		items = append(items, OrderItem{
			MenuItemID:   menuItem.ID,
			Name:         menuItem.Name,
			Quantity:     line.Quantity,
			UnitPrice:    menuItem.Price,
			Total:        ItemTotal(menuItem.Price, line.Quantity),
			Instructions: strings.TrimSpace(s.sanitizer.Sanitize(line.Instructions)),
		})
	}
	return items, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("RE-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

// resolveActor checks the acting user against the directory. An empty actor id
// stays empty; an unknown one fails with ErrActorNotFound.
func (s *orderService) resolveActor(ctx context.Context, actorID string) (string, error) {
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		return "", nil
	}
	if _, err := s.directory.FindCustomer(ctx, actor); err != nil {
		if isRepoNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrActorNotFound, actor)
		}
		return "", s.mapRepositoryError(err)
	}
	return actor, nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil && logger != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

// issueOrderInvoice runs after the settlement transaction commits. A failure is
// logged rather than returned; the invoice can be regenerated through the
// operator endpoint and the storage key keeps it single per order.
func issueOrderInvoice(ctx context.Context, invoices InvoiceGenerator, logger func(context.Context, string, map[string]any), orderID, actorID string) {
	if invoices == nil {
		return
	}
	if _, err := invoices.GenerateInvoice(ctx, GenerateInvoiceCommand{OrderID: orderID, ActorID: actorID}); err != nil && logger != nil {
		logger(ctx, "invoice.generate.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func trimJourney(journey Journey) Journey {
	return Journey{
		TrainID: strings.TrimSpace(journey.TrainID),
		PNR:     strings.TrimSpace(journey.PNR),
		Coach:   strings.TrimSpace(journey.Coach),
		Seat:    strings.TrimSpace(journey.Seat),
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
