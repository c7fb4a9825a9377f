package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusInTransit  OrderStatus = "in_transit"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Event tags recorded for mutations that are not status transitions.
const (
	EventCarrierUpdated = "carrier_updated"
	EventDriverUpdated  = "driver_updated"
	EventETAUpdated     = "eta_updated"
	EventNotesUpdated   = "notes_updated"
	EventPaymentUpdated = "payment_updated"
)

// orderTransitions is the authoritative lifecycle table. Terminal states
// carry only their self-loop; cancellation is reachable from every
// non-terminal state.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusInTransit, OrderStatusCancelled},
	OrderStatusInTransit:  {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusDelivered},
	OrderStatusCancelled:  {OrderStatusCancelled},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// NextStates returns the set of states reachable from s, in table order.
func (s OrderStatus) NextStates() []OrderStatus {
	next := orderTransitions[s]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusProcessing, PaymentStatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      string          `json:"customer_id"`
	CarrierID       *string         `json:"carrier_id,omitempty"`
	DriverID        *string         `json:"driver_id,omitempty"`
	OrderStatus     OrderStatus     `json:"order_status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Amount          decimal.Decimal `json:"amount"`
	GSTPercent      decimal.Decimal `json:"gst_percent"`
	PickupAddress   string          `json:"pickup_address"`
	DeliveryAddress string          `json:"delivery_address"`
	PickupDate      time.Time       `json:"pickup_date"`
	DeliveryDate    time.Time       `json:"delivery_date"`
	PalletCount     int             `json:"pallet_count"`
	WeightKG        float64         `json:"weight_kg"`
	Dimensions      string          `json:"dimensions,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TrackingEvent is one immutable ledger row. Status is a free-form tag: a
// lifecycle status for transitions, or one of the Event* constants for
// attribute updates.
type TrackingEvent struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Location    *string   `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Carrier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Driver struct {
	ID        string    `json:"id"`
	CarrierID *string   `json:"carrier_id,omitempty"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	License   string    `json:"license,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
