package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"freightdesk/internal/models"
)

// EventStore is the only persistence surface the ledger exposes: insert and
// chronological read. There is deliberately no update or delete.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.TrackingEvent) error
	EventsByOrder(ctx context.Context, orderID string) ([]*models.TrackingEvent, error)
}

// Ledger is the append-only audit trail of everything the lifecycle engine
// has done to an order.
type Ledger struct {
	store EventStore
	now   func() time.Time
}

func NewLedger(store EventStore) *Ledger {
	return &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append inserts one event. No validation beyond non-empty orderID, status
// and description.
func (l *Ledger) Append(ctx context.Context, orderID, status, description string, location *string) (*models.TrackingEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("append tracking event: order id is empty")
	}
	if strings.TrimSpace(status) == "" {
		return nil, fmt.Errorf("append tracking event: status is empty")
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("append tracking event: description is empty")
	}

	ev := &models.TrackingEvent{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Status:      status,
		Description: description,
		Location:    location,
		CreatedAt:   l.now(),
	}
	if err := l.store.InsertEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append tracking event: %w", err)
	}
	return ev, nil
}

// History returns all events for an order, most recent first. The result is
// a snapshot of the ledger at call time.
func (l *Ledger) History(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	events, err := l.store.EventsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("tracking history for order %s: %w", orderID, err)
	}
	return events, nil
}
