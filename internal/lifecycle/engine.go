package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightdesk/internal/models"
)

// MaxNotesLen caps the free-text notes field at 10 KB.
const MaxNotesLen = 10 * 1024

// Store is the persistence contract the engine needs. Mutating methods that
// take a TrackingEvent must write the entity and the event in one
// transaction: if the event insert fails the entity write must not commit.
type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CreateOrder(ctx context.Context, o *models.Order, ev *models.TrackingEvent) error
	UpdateOrder(ctx context.Context, o *models.Order, ev *models.TrackingEvent) error
	DeleteOrder(ctx context.Context, id string) (bool, error)
	NextOrderSeq(ctx context.Context) (int64, error)
}

// Engine owns every write to an order's status and assignment fields. It is
// stateless apart from the per-order locks that serialize writers; all
// durable state lives in the Store.
type Engine struct {
	store Store
	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockOrder serializes mutations per order id. The read-validate-write
// sequence of every mutating operation runs under this lock.
func (e *Engine) lockOrder(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

type CreateOrderInput struct {
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	GSTPercent      decimal.Decimal `json:"gst_percent"`
	PickupAddress   string          `json:"pickup_address"`
	DeliveryAddress string          `json:"delivery_address"`
	PickupDate      time.Time       `json:"pickup_date"`
	DeliveryDate    time.Time       `json:"delivery_date"`
	PalletCount     int             `json:"pallet_count"`
	WeightKG        float64         `json:"weight_kg"`
	Dimensions      string          `json:"dimensions"`
	Notes           string          `json:"notes"`
}

func (in *CreateOrderInput) validate() error {
	switch {
	case strings.TrimSpace(in.CustomerID) == "":
		return &ValidationError{Field: "customer_id", Reason: "required"}
	case strings.TrimSpace(in.PickupAddress) == "":
		return &ValidationError{Field: "pickup_address", Reason: "required"}
	case strings.TrimSpace(in.DeliveryAddress) == "":
		return &ValidationError{Field: "delivery_address", Reason: "required"}
	case in.PickupDate.IsZero():
		return &ValidationError{Field: "pickup_date", Reason: "required"}
	case in.DeliveryDate.IsZero():
		return &ValidationError{Field: "delivery_date", Reason: "required"}
	case in.PalletCount <= 0:
		return &ValidationError{Field: "pallet_count", Reason: "must be positive"}
	case !in.Amount.IsPositive():
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	case in.GSTPercent.IsNegative() || in.GSTPercent.GreaterThan(decimal.NewFromInt(100)):
		return &ValidationError{Field: "gst_percent", Reason: "must be between 0 and 100"}
	case len(in.Notes) > MaxNotesLen:
		return &ValidationError{Field: "notes", Reason: fmt.Sprintf("exceeds %d bytes", MaxNotesLen)}
	}
	return nil
}

// CreateOrder validates the input, generates the order number and persists
// the order together with its creation event.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	seq, err := e.store.NextOrderSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("next order sequence: %w", err)
	}
	now := e.now()
	o := &models.Order{
		ID:              e.newID(),
		OrderNumber:     fmt.Sprintf("ORD-%s-%04d", now.Format("20060102"), seq),
		CustomerID:      in.CustomerID,
		OrderStatus:     models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Amount:          in.Amount,
		GSTPercent:      in.GSTPercent,
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		PickupDate:      in.PickupDate,
		DeliveryDate:    in.DeliveryDate,
		PalletCount:     in.PalletCount,
		WeightKG:        in.WeightKG,
		Dimensions:      in.Dimensions,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	pickup := o.PickupAddress
	ev := e.newEvent(o.ID, string(models.OrderStatusPending), "Order created", &pickup)
	if err := e.store.CreateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

var transitionDescriptions = map[models.OrderStatus]string{
	models.OrderStatusProcessing: "Order is being processed",
	models.OrderStatusShipped:    "Order shipped",
	models.OrderStatusInTransit:  "Order in transit",
	models.OrderStatusDelivered:  "Order delivered",
	models.OrderStatusCancelled:  "Order cancelled",
}

// TransitionStatus is the sole entry point for changing an order's status.
func (e *Engine) TransitionStatus(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error) {
	if !target.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OrderStatus.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{
			Current:   o.OrderStatus,
			Attempted: target,
			Valid:     o.OrderStatus.NextStates(),
		}
	}

	o.OrderStatus = target
	o.UpdatedAt = e.now()

	var location *string
	if target == models.OrderStatusDelivered {
		addr := o.DeliveryAddress
		location = &addr
	}
	ev := e.newEvent(o.ID, string(target), transitionDescriptions[target], location)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("transition order %s: %w", orderID, err)
	}
	return o, nil
}

// UpdatePaymentStatus changes the payment axis. It carries no transition
// constraints of its own.
func (e *Engine) UpdatePaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "payment_status", Reason: fmt.Sprintf("unknown payment status %q", status)}
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.PaymentStatus = status
	o.UpdatedAt = e.now()

	ev := e.newEvent(o.ID, models.EventPaymentUpdated, fmt.Sprintf("Payment status set to %s", status), nil)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("update payment for order %s: %w", orderID, err)
	}
	return o, nil
}

// AssignCarrier sets or, when carrierID is nil, removes the carrier. The
// caller is responsible for checking the carrier exists; the engine trusts
// the reference was resolved.
func (e *Engine) AssignCarrier(ctx context.Context, orderID string, carrierID *string) (*models.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.CarrierID = carrierID
	o.UpdatedAt = e.now()

	desc := "Carrier removed from order"
	if carrierID != nil {
		desc = fmt.Sprintf("Carrier %s assigned to order", *carrierID)
	}
	ev := e.newEvent(o.ID, models.EventCarrierUpdated, desc, nil)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("assign carrier for order %s: %w", orderID, err)
	}
	return o, nil
}

// AssignDriver sets or removes the driver, mirroring AssignCarrier.
func (e *Engine) AssignDriver(ctx context.Context, orderID string, driverID *string) (*models.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.DriverID = driverID
	o.UpdatedAt = e.now()

	desc := "Driver removed from order"
	if driverID != nil {
		desc = fmt.Sprintf("Driver %s assigned to order", *driverID)
	}
	ev := e.newEvent(o.ID, models.EventDriverUpdated, desc, nil)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("assign driver for order %s: %w", orderID, err)
	}
	return o, nil
}

// UpdateETA overwrites the delivery date. The stored field keeps full
// precision; the event description truncates to day granularity.
func (e *Engine) UpdateETA(ctx context.Context, orderID string, eta time.Time) (*models.Order, error) {
	if eta.IsZero() {
		return nil, &ValidationError{Field: "delivery_date", Reason: "required"}
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.DeliveryDate = eta
	o.UpdatedAt = e.now()

	ev := e.newEvent(o.ID, models.EventETAUpdated, fmt.Sprintf("Delivery ETA set to %s", eta.Format("2006-01-02")), nil)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("update eta for order %s: %w", orderID, err)
	}
	return o, nil
}

func (e *Engine) UpdateNotes(ctx context.Context, orderID string, notes string) (*models.Order, error) {
	if len(notes) > MaxNotesLen {
		return nil, &ValidationError{Field: "notes", Reason: fmt.Sprintf("exceeds %d bytes", MaxNotesLen)}
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Notes = notes
	o.UpdatedAt = e.now()

	ev := e.newEvent(o.ID, models.EventNotesUpdated, "Order notes updated", nil)
	if err := e.store.UpdateOrder(ctx, o, ev); err != nil {
		return nil, fmt.Errorf("update notes for order %s: %w", orderID, err)
	}
	return o, nil
}

// DeleteOrder hard-deletes the order and its tracking events in one
// transaction. Returns false when the order did not exist.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) (bool, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	deleted, err := e.store.DeleteOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return deleted, nil
}

func (e *Engine) getOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if o == nil {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}
	return o, nil
}

func (e *Engine) newEvent(orderID, status, description string, location *string) *models.TrackingEvent {
	return &models.TrackingEvent{
		ID:          e.newID(),
		OrderID:     orderID,
		Status:      status,
		Description: description,
		Location:    location,
		CreatedAt:   e.now(),
	}
}
