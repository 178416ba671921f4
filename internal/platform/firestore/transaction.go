package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txContextKey struct{}

// TxFromContext extracts the transaction placed on the context by RunInTx.
// Repositories use it to route reads and writes through the open transaction.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// UnitOfWork groups repository operations into one Firestore transaction so a
// lifecycle mutation commits all of its rows or none of them.
type UnitOfWork struct {
	provider *Provider
	attempts int
	timeout  time.Duration
}

// UnitOfWorkOption customises transaction behaviour.
type UnitOfWorkOption func(*UnitOfWork)

// WithTxAttempts overrides the retry attempts for transactions.
func WithTxAttempts(attempts int) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if attempts > 0 {
			u.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the transaction context.
func WithTxTimeout(timeout time.Duration) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if timeout > 0 {
			u.timeout = timeout
		}
	}
}

// NewUnitOfWork constructs a UnitOfWork bound to the provider's client.
func NewUnitOfWork(provider *Provider, opts ...UnitOfWorkOption) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("firestore: unit of work requires a provider")
	}
	unit := &UnitOfWork{
		provider: provider,
		attempts: defaultTxAttempts,
		timeout:  defaultTxTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(unit)
		}
	}
	return unit, nil
}

// RunInTx executes fn inside a Firestore transaction. The transaction handle is
// carried on the derived context for transaction-aware repositories.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore: unit of work is not initialised")
	}
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}

	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if u.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > u.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, u.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	err = client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	}, firestore.MaxAttempts(u.attempts))

	return WrapError("transaction", err)
}
