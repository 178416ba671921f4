package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/raileats/api/internal/domain"
	pfirestore "github.com/raileats/api/internal/platform/firestore"
	"github.com/raileats/api/internal/platform/pagination"
	"github.com/raileats/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	MenuItemID   string `firestore:"menuItemId"`
	Name         string `firestore:"name"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    int64  `firestore:"unitPrice"`
	Total        int64  `firestore:"total"`
	Instructions string `firestore:"instructions,omitempty"`
}

type amountsDocument struct {
	Subtotal       int64 `firestore:"subtotal"`
	Tax            int64 `firestore:"tax"`
	DeliveryCharge int64 `firestore:"deliveryCharge"`
	Discount       int64 `firestore:"discount"`
	Total          int64 `firestore:"total"`
}

type journeyDocument struct {
	TrainID string `firestore:"trainId,omitempty"`
	PNR     string `firestore:"pnr,omitempty"`
	Coach   string `firestore:"coach,omitempty"`
	Seat    string `firestore:"seat,omitempty"`
}

type orderDocument struct {
	OrderNumber          string              `firestore:"orderNumber"`
	CustomerID           string              `firestore:"customerId"`
	VendorID             string              `firestore:"vendorId"`
	StationID            string              `firestore:"stationId"`
	Journey              journeyDocument     `firestore:"journey"`
	DeliveryAt           *time.Time          `firestore:"deliveryAt,omitempty"`
	DeliveryInstructions string              `firestore:"deliveryInstructions,omitempty"`
	Status               string              `firestore:"status"`
	Amounts              amountsDocument     `firestore:"amounts"`
	PaymentStatus        string              `firestore:"paymentStatus"`
	PaymentMethod        string              `firestore:"paymentMethod"`
	GatewayOrderID       *string             `firestore:"gatewayOrderId,omitempty"`
	PaymentRef           *string             `firestore:"paymentRef,omitempty"`
	Items                []orderItemDocument `firestore:"items"`
	CreatedBy            *string             `firestore:"createdBy,omitempty"`
	UpdatedBy            *string             `firestore:"updatedBy,omitempty"`
	CreatedAt            time.Time           `firestore:"createdAt"`
	UpdatedAt            time.Time           `firestore:"updatedAt"`
	SettledAt            *time.Time          `firestore:"settledAt,omitempty"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert stores a new order, failing with a conflict when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.docRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := createDoc(ctx, ref, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites an existing order aggregate.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.docRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := setDoc(ctx, ref, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads a single order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.docRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return decodeOrderDocument(snap)
}

// FindByGatewayOrderID resolves the order that owns a gateway order reference.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	id := strings.TrimSpace(gatewayOrderID)
	if id == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_gateway", status.Error(codes.NotFound, "gateway order id is empty"))
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	iter := queryDocs(ctx, coll.Where("gatewayOrderId", "==", id).Limit(1))
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_gateway", status.Error(codes.NotFound, "no order for gateway order id"))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_gateway", err)
	}
	return decodeOrderDocument(snap)
}

// List returns a filtered page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if v := strings.TrimSpace(filter.CustomerID); v != "" {
		query = query.Where("customerId", "==", v)
	}
	if v := strings.TrimSpace(filter.VendorID); v != "" {
		query = query.Where("vendorId", "==", v)
	}
	if v := strings.TrimSpace(filter.StationID); v != "" {
		query = query.Where("stationId", "==", v)
	}
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		query = query.Where("paymentStatus", "==", string(filter.PaymentStatus))
	}
	if filter.PlacedAfter != nil {
		query = query.Where("createdAt", ">=", filter.PlacedAfter.UTC())
	}
	if filter.PlacedBefore != nil {
		query = query.Where("createdAt", "<", filter.PlacedBefore.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		startAfter, err := orderCursorValues(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(startAfter...)
	}

	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)
	iter := queryDocs(ctx, query.Limit(pageSize+1))
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(orders) == pageSize {
			// The extra row signals another page; the cursor points at the
			// final row of this page.
			last := orders[len(orders)-1]
			nextToken, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{
				last.CreatedAt.UTC().Format(time.RFC3339Nano),
				last.ID,
			}})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
		}
		order, err := decodeOrderDocument(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	return domain.CursorPage[domain.Order]{Items: orders}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func (r *OrderRepository) docRef(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order repository: order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func orderCursorValues(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) != 2 {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAtRaw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return nil, pagination.ErrInvalidPageToken
	}
	return []any{createdAt, id}, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		VendorID:    strings.TrimSpace(order.VendorID),
		StationID:   strings.TrimSpace(order.StationID),
		Journey: journeyDocument{
			TrainID: strings.TrimSpace(order.Journey.TrainID),
			PNR:     strings.TrimSpace(order.Journey.PNR),
			Coach:   strings.TrimSpace(order.Journey.Coach),
			Seat:    strings.TrimSpace(order.Journey.Seat),
		},
		DeliveryInstructions: order.DeliveryInstructions,
		Status:               string(order.Status),
		Amounts: amountsDocument{
			Subtotal:       order.Amounts.Subtotal,
			Tax:            order.Amounts.Tax,
			DeliveryCharge: order.Amounts.DeliveryCharge,
			Discount:       order.Amounts.Discount,
			Total:          order.Amounts.Total,
		},
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if order.DeliveryAt != nil {
		at := order.DeliveryAt.UTC()
		doc.DeliveryAt = &at
	}
	if order.GatewayOrderID != nil && strings.TrimSpace(*order.GatewayOrderID) != "" {
		id := strings.TrimSpace(*order.GatewayOrderID)
		doc.GatewayOrderID = &id
	}
	if order.PaymentRef != nil && strings.TrimSpace(*order.PaymentRef) != "" {
		ref := strings.TrimSpace(*order.PaymentRef)
		doc.PaymentRef = &ref
	}
	if order.Audit.CreatedBy != nil {
		doc.CreatedBy = order.Audit.CreatedBy
	}
	if order.Audit.UpdatedBy != nil {
		doc.UpdatedBy = order.Audit.UpdatedBy
	}
	if order.SettledAt != nil {
		at := order.SettledAt.UTC()
		doc.SettledAt = &at
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			MenuItemID:   strings.TrimSpace(item.MenuItemID),
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}
	return doc
}

func decodeOrderDocument(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}

	order := domain.Order{
		ID:          snap.Ref.ID,
		OrderNumber: doc.OrderNumber,
		CustomerID:  doc.CustomerID,
		VendorID:    doc.VendorID,
		StationID:   doc.StationID,
		Journey: domain.Journey{
			TrainID: doc.Journey.TrainID,
			PNR:     doc.Journey.PNR,
			Coach:   doc.Journey.Coach,
			Seat:    doc.Journey.Seat,
		},
		DeliveryInstructions: doc.DeliveryInstructions,
		Status:               domain.OrderStatus(doc.Status),
		Amounts: domain.Amounts{
			Subtotal:       doc.Amounts.Subtotal,
			Tax:            doc.Amounts.Tax,
			DeliveryCharge: doc.Amounts.DeliveryCharge,
			Discount:       doc.Amounts.Discount,
			Total:          doc.Amounts.Total,
		},
		PaymentStatus:  domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		GatewayOrderID: doc.GatewayOrderID,
		PaymentRef:     doc.PaymentRef,
		Audit: domain.OrderAudit{
			CreatedBy: doc.CreatedBy,
			UpdatedBy: doc.UpdatedBy,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.DeliveryAt != nil {
		at := doc.DeliveryAt.UTC()
		order.DeliveryAt = &at
	}
	if doc.SettledAt != nil {
		at := doc.SettledAt.UTC()
		order.SettledAt = &at
	}
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			MenuItemID:   item.MenuItemID,
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Instructions: item.Instructions,
		})
	}
	return order, nil
}
