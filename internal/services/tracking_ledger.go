package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/raileats/api/internal/domain"
	"github.com/raileats/api/internal/repositories"
)

const trackingEntryIDPrefix = "trk_"

// TrackingLedgerDeps bundles collaborators for the tracking ledger.
type TrackingLedgerDeps struct {
	Tracking    repositories.TrackingRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// TrackingLedger maintains the status trail of an order. Consecutive rows never
// repeat a status: recording the current status again refreshes the latest row
// in place instead of appending a duplicate.
type TrackingLedger struct {
	tracking  repositories.TrackingRepository
	clock     func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
}

// NewTrackingLedger wires dependencies into a TrackingLedger.
func NewTrackingLedger(deps TrackingLedgerDeps) (*TrackingLedger, error) {
	if deps.Tracking == nil {
		return nil, errors.New("tracking ledger: tracking repository is required")
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

	return &TrackingLedger{
		tracking:  deps.Tracking,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// StagedTransition holds a transition whose latest-row lookup already ran.
// Firestore transactions reject reads issued after a buffered write, so callers
// mutating an order in the same transaction stage the ledger first, write the
// order, then Commit.
type StagedTransition struct {
	ledger *TrackingLedger
	entry  domain.TrackingEntry
	update bool
}

// Stage resolves how a status observation lands in the order's trail: a repeat
// of the latest status becomes an in-place refresh, anything else an append.
// Only the lookup runs here; Commit performs the write.
func (l *TrackingLedger) Stage(ctx context.Context, orderID string, status domain.OrderStatus, remarks, actorID string) (*StagedTransition, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("tracking ledger: order id is required")
	}
	if strings.TrimSpace(string(status)) == "" {
		return nil, errors.New("tracking ledger: status is required")
	}

	now := l.clock()
	remarks = strings.TrimSpace(l.sanitizer.Sanitize(remarks))

	var actor *string
	if trimmed := strings.TrimSpace(actorID); trimmed != "" {
		actor = &trimmed
	}

	latest, err := l.tracking.FindLatest(ctx, orderID)
	switch {
	case err == nil && latest.Status == status:
		latest.Remarks = remarks
		latest.ActorID = actor
		latest.UpdatedAt = now
		return &StagedTransition{ledger: l, entry: latest, update: true}, nil
	case err != nil && !isRepoNotFound(err):
		return nil, err
	}

	return &StagedTransition{ledger: l, entry: domain.TrackingEntry{
		ID:        trackingEntryIDPrefix + l.newID(),
		OrderID:   orderID,
		Status:    status,
		Remarks:   remarks,
		ActorID:   actor,
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil
}

// Commit writes the staged row.
func (t *StagedTransition) Commit(ctx context.Context) error {
	if t == nil || t.ledger == nil {
		return errors.New("tracking ledger: transition was not staged")
	}
	if t.update {
		return t.ledger.tracking.UpdateLatest(ctx, t.entry)
	}
	return t.ledger.tracking.Append(ctx, t.entry)
}

// Record stages and immediately commits a status observation. Callers writing
// the order in the same Firestore transaction use Stage and Commit separately.
func (l *TrackingLedger) Record(ctx context.Context, orderID string, status domain.OrderStatus, remarks, actorID string) error {
	staged, err := l.Stage(ctx, orderID, status, remarks, actorID)
	if err != nil {
		return err
	}
	return staged.Commit(ctx)
}

// Trail returns the full status history of an order, oldest first.
func (l *TrackingLedger) Trail(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("tracking ledger: order id is required")
	}
	return l.tracking.ListByOrder(ctx, orderID)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
