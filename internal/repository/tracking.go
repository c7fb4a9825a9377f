package repository

import (
	"context"
	"database/sql"
	"fmt"

	"freightdesk/internal/models"
)

// InsertEvent appends a single ledger row outside an order mutation. The
// relay task is enqueued in the same transaction.
func (r *OrderRepository) InsertEvent(ctx context.Context, ev *models.TrackingEvent) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return insertEventTx(ctx, tx, ev)
	})
}

// EventsByOrder returns the order's events, most recent first.
func (r *OrderRepository) EventsByOrder(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, status, description, location, created_at
		FROM tracking_events
		WHERE order_id=$1
		ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("events by order: %w", err)
	}
	defer rows.Close()

	var res []*models.TrackingEvent
	for rows.Next() {
		ev := &models.TrackingEvent{}
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Description, &ev.Location, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
