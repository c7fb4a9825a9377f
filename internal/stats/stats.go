package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"freightdesk/internal/models"
)

// activityWindow is the trailing window used to classify a customer as
// active.
const activityWindow = 90 * 24 * time.Hour

// OrderSource provides the aggregate queries the dashboard needs. Each
// counter is an independent query so the numbers always reflect the latest
// committed state.
type OrderSource interface {
	CountOrders(ctx context.Context) (int64, error)
	CountOrdersByStatus(ctx context.Context, status models.OrderStatus) (int64, error)
	SumOrderAmounts(ctx context.Context) (decimal.Decimal, error)
}

type DashboardMetrics struct {
	TotalOrders    int64           `json:"total_orders"`
	PendingOrders  int64           `json:"pending_orders"`
	TotalInTransit int64           `json:"total_in_transit"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
}

type CustomerWithStats struct {
	models.Customer
	OrderCount int64           `json:"order_count"`
	TotalSpend decimal.Decimal `json:"total_spend"`
	Status     string          `json:"status"`
}

type CarrierWithStats struct {
	models.Carrier
	DriverCount int64 `json:"driver_count"`
	OrderCount  int64 `json:"order_count"`
}

type Aggregator struct {
	src OrderSource
	now func() time.Time
}

func NewAggregator(src OrderSource) *Aggregator {
	return &Aggregator{
		src: src,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard recomputes the four dashboard counters on demand. The "in
// transit" counter counts orders in the shipped state, which is what the
// dashboard has always displayed under that label.
func (a *Aggregator) Dashboard(ctx context.Context) (*DashboardMetrics, error) {
	total, err := a.src.CountOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	pending, err := a.src.CountOrdersByStatus(ctx, models.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("count pending orders: %w", err)
	}
	inTransit, err := a.src.CountOrdersByStatus(ctx, models.OrderStatusShipped)
	if err != nil {
		return nil, fmt.Errorf("count shipped orders: %w", err)
	}
	revenue, err := a.src.SumOrderAmounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum order amounts: %w", err)
	}
	return &DashboardMetrics{
		TotalOrders:    total,
		PendingOrders:  pending,
		TotalInTransit: inTransit,
		TotalRevenue:   revenue,
	}, nil
}

// CustomerStats derives per-customer order count, total spend and the
// active/inactive classification. A customer is active iff at least one of
// its orders was created within the trailing 90 days of the call.
func (a *Aggregator) CustomerStats(customers []*models.Customer, orders []*models.Order) []*CustomerWithStats {
	cutoff := a.now().Add(-activityWindow)

	byCustomer := make(map[string][]*models.Order)
	for _, o := range orders {
		byCustomer[o.CustomerID] = append(byCustomer[o.CustomerID], o)
	}

	out := make([]*CustomerWithStats, 0, len(customers))
	for _, c := range customers {
		cs := &CustomerWithStats{
			Customer:   *c,
			TotalSpend: decimal.Zero,
			Status:     "inactive",
		}
		for _, o := range byCustomer[c.ID] {
			cs.OrderCount++
			cs.TotalSpend = cs.TotalSpend.Add(o.Amount)
			if o.CreatedAt.After(cutoff) {
				cs.Status = "active"
			}
		}
		out = append(out, cs)
	}
	return out
}

// CarrierStats derives per-carrier driver and order counts by foreign-key
// filtering. Carriers carry no time-windowed activity logic.
func (a *Aggregator) CarrierStats(carriers []*models.Carrier, drivers []*models.Driver, orders []*models.Order) []*CarrierWithStats {
	driverCount := make(map[string]int64)
	for _, d := range drivers {
		if d.CarrierID != nil {
			driverCount[*d.CarrierID]++
		}
	}
	orderCount := make(map[string]int64)
	for _, o := range orders {
		if o.CarrierID != nil {
			orderCount[*o.CarrierID]++
		}
	}

	out := make([]*CarrierWithStats, 0, len(carriers))
	for _, c := range carriers {
		out = append(out, &CarrierWithStats{
			Carrier:     *c,
			DriverCount: driverCount[c.ID],
			OrderCount:  orderCount[c.ID],
		})
	}
	return out
}
