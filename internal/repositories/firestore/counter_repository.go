package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/raileats/api/internal/platform/firestore"
	"github.com/raileats/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository issues sequence values through Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, now: time.Now}, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// Next atomically increments the counter and returns the new value. When a
// transaction is already open on the context the increment joins it, otherwise
// the method runs its own transaction.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter repository: counter id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	ref := client.Collection(countersCollection).Doc(id)

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return r.increment(tx, ref, id)
	}

	var next int64
	err = client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		value, err := r.increment(tx, ref, id)
		if err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

func (r *CounterRepository) increment(tx *firestore.Transaction, ref *firestore.DocumentRef, id string) (int64, error) {
	now := r.now().UTC()

	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		doc := counterDocument{CurrentValue: 1, UpdatedAt: now}
		if err := tx.Create(ref, doc); err != nil {
			return 0, pfirestore.WrapError("counters.next", err)
		}
		return doc.CurrentValue, nil
	}
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}

	var doc counterDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("firestore counters decode %s: %w", id, err)
	}

	doc.CurrentValue++
	doc.UpdatedAt = now
	if err := tx.Set(ref, doc); err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return doc.CurrentValue, nil
}
