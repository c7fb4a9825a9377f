package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightdesk/internal/models"
)

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]models.Order
	events []models.TrackingEvent
	seq    int64

	createErr error
	updateErr error
	seqErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]models.Order)}
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := o
	return &cp, nil
}

func (s *fakeStore) NextOrderSeq(_ context.Context) (int64, error) {
	if s.seqErr != nil {
		return 0, s.seqErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *fakeStore) CreateOrder(_ context.Context, o *models.Order, ev *models.TrackingEvent) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, o *models.Order, ev *models.TrackingEvent) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return &ConcurrencyConflictError{OrderID: o.ID}
	}
	s.orders[o.ID] = *o
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeStore) DeleteOrder(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return false, nil
	}
	delete(s.orders, id)
	return true, nil
}

func (s *fakeStore) eventsFor(orderID string) []models.TrackingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TrackingEvent
	for _, ev := range s.events {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(store Store) *Engine {
	e := NewEngine(store)
	e.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	var n int
	e.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return e
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerID:      "cust-1",
		Amount:          decimal.RequireFromString("150.00"),
		GSTPercent:      decimal.NewFromInt(10),
		PickupAddress:   "10 Dock Rd, Sydney",
		DeliveryAddress: "4 Mill Ln, Brisbane",
		PickupDate:      time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC),
		DeliveryDate:    time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC),
		PalletCount:     3,
		WeightKG:        420.5,
	}
}

func TestCreateOrder(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)

	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "ORD-20260829-0001", o.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, o.OrderStatus)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, "pending", evs[0].Status)
	assert.Equal(t, "Order created", evs[0].Description)
	require.NotNil(t, evs[0].Location)
	assert.Equal(t, "10 Dock Rd, Sydney", *evs[0].Location)
}

func TestCreateOrderNumberIncrements(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)

	first, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	second, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "ORD-20260829-0001", first.OrderNumber)
	assert.Equal(t, "ORD-20260829-0002", second.OrderNumber)
}

func TestCreateOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
		field  string
	}{
		{"missing customer", func(in *CreateOrderInput) { in.CustomerID = " " }, "customer_id"},
		{"missing pickup address", func(in *CreateOrderInput) { in.PickupAddress = "" }, "pickup_address"},
		{"missing delivery address", func(in *CreateOrderInput) { in.DeliveryAddress = "" }, "delivery_address"},
		{"missing pickup date", func(in *CreateOrderInput) { in.PickupDate = time.Time{} }, "pickup_date"},
		{"missing delivery date", func(in *CreateOrderInput) { in.DeliveryDate = time.Time{} }, "delivery_date"},
		{"zero pallets", func(in *CreateOrderInput) { in.PalletCount = 0 }, "pallet_count"},
		{"negative amount", func(in *CreateOrderInput) { in.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"zero amount", func(in *CreateOrderInput) { in.Amount = decimal.Zero }, "amount"},
		{"gst over 100", func(in *CreateOrderInput) { in.GSTPercent = decimal.NewFromInt(101) }, "gst_percent"},
		{"gst negative", func(in *CreateOrderInput) { in.GSTPercent = decimal.NewFromInt(-1) }, "gst_percent"},
		{"oversized notes", func(in *CreateOrderInput) { in.Notes = strings.Repeat("x", MaxNotesLen+1) }, "notes"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			e := newTestEngine(store)
			in := validInput()
			tc.mutate(&in)

			_, err := e.CreateOrder(context.Background(), in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.Empty(t, store.events, "no event on rejected input")
		})
	}
}

func TestTransitionMatrix(t *testing.T) {
	all := []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusInTransit,
		models.OrderStatusDelivered,
		models.OrderStatusCancelled,
	}
	allowed := map[models.OrderStatus]map[models.OrderStatus]bool{
		models.OrderStatusPending:    {models.OrderStatusProcessing: true, models.OrderStatusCancelled: true},
		models.OrderStatusProcessing: {models.OrderStatusShipped: true, models.OrderStatusCancelled: true},
		models.OrderStatusShipped:    {models.OrderStatusInTransit: true, models.OrderStatusCancelled: true},
		models.OrderStatusInTransit:  {models.OrderStatusDelivered: true, models.OrderStatusCancelled: true},
		models.OrderStatusDelivered:  {models.OrderStatusDelivered: true},
		models.OrderStatusCancelled:  {models.OrderStatusCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				store := newFakeStore()
				e := newTestEngine(store)
				o, err := e.CreateOrder(context.Background(), validInput())
				require.NoError(t, err)

				store.mu.Lock()
				cur := store.orders[o.ID]
				cur.OrderStatus = from
				store.orders[o.ID] = cur
				store.mu.Unlock()

				got, err := e.TransitionStatus(context.Background(), o.ID, to)
				if allowed[from][to] {
					require.NoError(t, err)
					assert.Equal(t, to, got.OrderStatus)
					assert.Len(t, store.eventsFor(o.ID), 2)
				} else {
					var it *InvalidTransitionError
					require.ErrorAs(t, err, &it)
					assert.Equal(t, from, it.Current)
					assert.Equal(t, to, it.Attempted)
					assert.Equal(t, from.NextStates(), it.Valid)
					assert.Len(t, store.eventsFor(o.ID), 1, "no event on rejected transition")
				}
			})
		}
	}
}

func TestTransitionDeliveredRecordsLocation(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	for _, st := range []models.OrderStatus{
		models.OrderStatusProcessing, models.OrderStatusShipped,
		models.OrderStatusInTransit, models.OrderStatusDelivered,
	} {
		_, err = e.TransitionStatus(context.Background(), o.ID, st)
		require.NoError(t, err)
	}

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 5)
	last := evs[len(evs)-1]
	assert.Equal(t, "delivered", last.Status)
	assert.Equal(t, "Order delivered", last.Description)
	require.NotNil(t, last.Location)
	assert.Equal(t, "4 Mill Ln, Brisbane", *last.Location)
	// Intermediate transitions carry no location.
	assert.Nil(t, evs[1].Location)
}

func TestTransitionUnknownStatus(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	_, err = e.TransitionStatus(context.Background(), o.ID, "teleported")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)
}

func TestTransitionMissingOrder(t *testing.T) {
	e := newTestEngine(newFakeStore())

	_, err := e.TransitionStatus(context.Background(), "missing", models.OrderStatusProcessing)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "order", nf.Entity)
	assert.Equal(t, "missing", nf.ID)
}

func TestTransitionStoreFailureLeavesNoEvent(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	store.updateErr = errors.New("disk full")
	_, err = e.TransitionStatus(context.Background(), o.ID, models.OrderStatusProcessing)
	require.Error(t, err)

	assert.Len(t, store.eventsFor(o.ID), 1)
	got, _ := store.GetOrder(context.Background(), o.ID)
	assert.Equal(t, models.OrderStatusPending, got.OrderStatus, "status unchanged after failed write")
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.TransitionStatus(context.Background(), o.ID, models.OrderStatusProcessing)
		}(i)
	}
	wg.Wait()

	var wins, rejects int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var it *InvalidTransitionError
		require.ErrorAs(t, err, &it)
		rejects++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, rejects)
	assert.Len(t, store.eventsFor(o.ID), 2, "exactly one transition event recorded")
}

func TestUpdatePaymentStatus(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	got, err := e.UpdatePaymentStatus(context.Background(), o.ID, models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, got.OrderStatus)

	// Any payment status can follow any other.
	for _, p := range []models.PaymentStatus{
		models.PaymentStatusFailed, models.PaymentStatusProcessing, models.PaymentStatusPending,
	} {
		_, err = e.UpdatePaymentStatus(context.Background(), o.ID, p)
		require.NoError(t, err)
	}

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 5)
	assert.Equal(t, models.EventPaymentUpdated, evs[1].Status)
	assert.Equal(t, "Payment status set to paid", evs[1].Description)

	_, err = e.UpdatePaymentStatus(context.Background(), o.ID, "voided")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAssignCarrier(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	carrier := "carr-1"
	got, err := e.AssignCarrier(context.Background(), o.ID, &carrier)
	require.NoError(t, err)
	require.NotNil(t, got.CarrierID)
	assert.Equal(t, "carr-1", *got.CarrierID)

	got, err = e.AssignCarrier(context.Background(), o.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.CarrierID)

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 3)
	assert.Equal(t, models.EventCarrierUpdated, evs[1].Status)
	assert.Equal(t, "Carrier carr-1 assigned to order", evs[1].Description)
	assert.Equal(t, "Carrier removed from order", evs[2].Description)
}

func TestAssignDriver(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	driver := "drv-1"
	got, err := e.AssignDriver(context.Background(), o.ID, &driver)
	require.NoError(t, err)
	require.NotNil(t, got.DriverID)

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventDriverUpdated, evs[1].Status)
	assert.Equal(t, "Driver drv-1 assigned to order", evs[1].Description)
}

func TestUpdateETA(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	eta := time.Date(2026, 9, 3, 16, 45, 0, 0, time.UTC)
	got, err := e.UpdateETA(context.Background(), o.ID, eta)
	require.NoError(t, err)
	assert.Equal(t, eta, got.DeliveryDate, "stored date keeps full precision")

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventETAUpdated, evs[1].Status)
	assert.Equal(t, "Delivery ETA set to 2026-09-03", evs[1].Description)

	_, err = e.UpdateETA(context.Background(), o.ID, time.Time{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "delivery_date", ve.Field)
}

func TestUpdateNotes(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	got, err := e.UpdateNotes(context.Background(), o.ID, "fragile")
	require.NoError(t, err)
	assert.Equal(t, "fragile", got.Notes)

	evs := store.eventsFor(o.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventNotesUpdated, evs[1].Status)

	_, err = e.UpdateNotes(context.Background(), o.ID, strings.Repeat("x", MaxNotesLen+1))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "notes", ve.Field)

	// Empty notes clear the field.
	got, err = e.UpdateNotes(context.Background(), o.ID, "")
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
}

func TestDeleteOrder(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)
	o, err := e.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	deleted, err := e.DeleteOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.DeleteOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
