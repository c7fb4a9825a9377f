package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"freightdesk/internal/lifecycle"
	"freightdesk/internal/models"
)

// OrderRepository persists orders and their tracking events in Postgres.
// Every mutating method writes the order row and its event row in one
// transaction, plus an outbox task carrying the event for the Kafka relay.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, order_number, customer_id, carrier_id, driver_id,
	order_status, payment_status, amount, gst_percent,
	pickup_address, delivery_address, pickup_date, delivery_date,
	pallet_count, weight_kg, dimensions, notes, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.CarrierID, &o.DriverID,
		&o.OrderStatus, &o.PaymentStatus, &o.Amount, &o.GSTPercent,
		&o.PickupAddress, &o.DeliveryAddress, &o.PickupDate, &o.DeliveryDate,
		&o.PalletCount, &o.WeightKG, &o.Dimensions, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) NextOrderSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next order seq: %w", err)
	}
	return seq, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, o *models.Order, ev *models.TrackingEvent) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			o.ID, o.OrderNumber, o.CustomerID, o.CarrierID, o.DriverID,
			o.OrderStatus, o.PaymentStatus, o.Amount, o.GSTPercent,
			o.PickupAddress, o.DeliveryAddress, o.PickupDate, o.DeliveryDate,
			o.PalletCount, o.WeightKG, o.Dimensions, o.Notes, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return insertEventTx(ctx, tx, ev)
	})
}

func (r *OrderRepository) UpdateOrder(ctx context.Context, o *models.Order, ev *models.TrackingEvent) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET
				carrier_id=$1, driver_id=$2, order_status=$3, payment_status=$4,
				delivery_date=$5, notes=$6, updated_at=$7
			WHERE id=$8`,
			o.CarrierID, o.DriverID, o.OrderStatus, o.PaymentStatus,
			o.DeliveryDate, o.Notes, o.UpdatedAt, o.ID,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return &lifecycle.ConcurrencyConflictError{OrderID: o.ID}
		}
		return insertEventTx(ctx, tx, ev)
	})
}

// DeleteOrder removes the order and its tracking events in one transaction.
// The HTTP-level audit trail keeps the deletion visible.
func (r *OrderRepository) DeleteOrder(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracking_events WHERE order_id=$1`, id); err != nil {
			return fmt.Errorf("delete tracking events: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// List pages orders by id cursor, optionally filtered by customer.
func (r *OrderRepository) List(ctx context.Context, cursor string, limit int64, customerID string) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var filters []string
	var args []any
	idx := 1

	query := `SELECT ` + orderColumns + ` FROM orders`
	if cursor != "" {
		filters = append(filters, fmt.Sprintf("id>$%d", idx))
		args = append(args, cursor)
		idx++
	}
	if customerID != "" {
		filters = append(filters, fmt.Sprintf("customer_id=$%d", idx))
		args = append(args, customerID)
		idx++
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ListAll returns the whole order population for stats derivation.
func (r *OrderRepository) ListAll(ctx context.Context) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r *OrderRepository) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) CountOrdersByStatus(ctx context.Context, status models.OrderStatus) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE order_status=$1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders by status: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) SumOrderAmounts(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM orders`).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum order amounts: %w", err)
	}
	return sum, nil
}

func (r *OrderRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// insertEventTx writes the ledger row and enqueues the relay task inside the
// caller's transaction.
func insertEventTx(ctx context.Context, tx *sql.Tx, ev *models.TrackingEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_events (id, order_id, status, description, location, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.ID, ev.OrderID, ev.Status, ev.Description, ev.Location, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal tracking event: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (created_at, updated_at, event_data, status, attempt_count)
		VALUES (NOW(), NOW(), $1, $2, 0)`,
		payload, TaskStatusCreated,
	)
	if err != nil {
		return fmt.Errorf("enqueue relay task: %w", err)
	}
	return nil
}
