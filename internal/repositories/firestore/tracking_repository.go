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
	"github.com/raileats/api/internal/repositories"
)

const trackingCollectionPattern = "orders/%s/tracking"

type trackingDocument struct {
	Status    string    `firestore:"status"`
	Remarks   string    `firestore:"remarks,omitempty"`
	ActorID   *string   `firestore:"actorId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// TrackingRepository stores order status trails as a subcollection per order.
type TrackingRepository struct {
	provider *pfirestore.Provider
}

// NewTrackingRepository constructs a Firestore-backed tracking repository.
func NewTrackingRepository(provider *pfirestore.Provider) (*TrackingRepository, error) {
	if provider == nil {
		return nil, errors.New("tracking repository requires firestore provider")
	}
	return &TrackingRepository{provider: provider}, nil
}

var _ repositories.TrackingRepository = (*TrackingRepository)(nil)

// Append adds a new trail row.
func (r *TrackingRepository) Append(ctx context.Context, entry domain.TrackingEntry) error {
	ref, err := r.docRef(ctx, entry.OrderID, entry.ID)
	if err != nil {
		return err
	}
	if err := createDoc(ctx, ref, encodeTrackingDocument(entry)); err != nil {
		return pfirestore.WrapError("tracking.append", err)
	}
	return nil
}

// UpdateLatest refreshes an existing trail row in place.
func (r *TrackingRepository) UpdateLatest(ctx context.Context, entry domain.TrackingEntry) error {
	ref, err := r.docRef(ctx, entry.OrderID, entry.ID)
	if err != nil {
		return err
	}
	if err := setDoc(ctx, ref, encodeTrackingDocument(entry)); err != nil {
		return pfirestore.WrapError("tracking.update_latest", err)
	}
	return nil
}

// FindLatest returns the most recent trail row for the order.
func (r *TrackingRepository) FindLatest(ctx context.Context, orderID string) (domain.TrackingEntry, error) {
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return domain.TrackingEntry{}, err
	}

	iter := queryDocs(ctx, coll.OrderBy("createdAt", firestore.Desc).Limit(1))
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.TrackingEntry{}, pfirestore.WrapError("tracking.find_latest", status.Error(codes.NotFound, "order has no tracking rows"))
	}
	if err != nil {
		return domain.TrackingEntry{}, pfirestore.WrapError("tracking.find_latest", err)
	}
	return decodeTrackingDocument(strings.TrimSpace(orderID), snap)
}

// ListByOrder returns the full trail oldest first.
func (r *TrackingRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := queryDocs(ctx, coll.OrderBy("createdAt", firestore.Asc))
	defer iter.Stop()

	var entries []domain.TrackingEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("tracking.list", err)
		}
		entry, err := decodeTrackingDocument(strings.TrimSpace(orderID), snap)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *TrackingRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("tracking repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("tracking repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(trackingCollectionPattern, id)), nil
}

func (r *TrackingRepository) docRef(ctx context.Context, orderID, entryID string) (*firestore.DocumentRef, error) {
	id := strings.TrimSpace(entryID)
	if id == "" {
		return nil, errors.New("tracking repository: entry id is required")
	}
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func encodeTrackingDocument(entry domain.TrackingEntry) trackingDocument {
	doc := trackingDocument{
		Status:    string(entry.Status),
		Remarks:   entry.Remarks,
		CreatedAt: entry.CreatedAt.UTC(),
		UpdatedAt: entry.UpdatedAt.UTC(),
	}
	if entry.ActorID != nil && strings.TrimSpace(*entry.ActorID) != "" {
		actor := strings.TrimSpace(*entry.ActorID)
		doc.ActorID = &actor
	}
	return doc
}

func decodeTrackingDocument(orderID string, snap *firestore.DocumentSnapshot) (domain.TrackingEntry, error) {
	var doc trackingDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.TrackingEntry{}, fmt.Errorf("firestore tracking decode %s: %w", snap.Ref.ID, err)
	}
	return domain.TrackingEntry{
		ID:        snap.Ref.ID,
		OrderID:   orderID,
		Status:    domain.OrderStatus(doc.Status),
		Remarks:   doc.Remarks,
		ActorID:   doc.ActorID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
