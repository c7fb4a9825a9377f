package integrations

import (
	"encoding/json"
	"net/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightdesk/internal/models"
	"freightdesk/internal/stats"
)

func (s *IntegrationSuite) TestCreateOrder() {
	o := s.createOrder()

	assert.Regexp(s.T(), `^ORD-\d{8}-\d{4}$`, o.OrderNumber)
	assert.Equal(s.T(), models.OrderStatusPending, o.OrderStatus)

	resp, body := s.doRequest(http.MethodGet, "/orders/"+o.ID, nil)
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var got models.Order
	require.NoError(s.T(), json.Unmarshal(body, &got))
	assert.Equal(s.T(), o.OrderNumber, got.OrderNumber)
	assert.True(s.T(), o.Amount.Equal(got.Amount))
}

func (s *IntegrationSuite) TestLifecycleAndHistory() {
	o := s.createOrder()

	for _, status := range []string{"processing", "shipped", "in_transit", "delivered"} {
		resp, body := s.doRequest(http.MethodPut, "/orders-status/"+o.ID,
			map[string]string{"status": status})
		require.Equal(s.T(), http.StatusOK, resp.StatusCode, "transition to %s: %s", status, body)
	}

	resp, body := s.doRequest(http.MethodGet, "/orders-history/"+o.ID, nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var events []models.TrackingEvent
	require.NoError(s.T(), json.Unmarshal(body, &events))
	require.Len(s.T(), events, 5)
	assert.Equal(s.T(), "delivered", events[0].Status)
	assert.Equal(s.T(), "pending", events[4].Status)

	// Atomic with the order write: one outbox task per event.
	var tasks int
	require.NoError(s.T(), s.db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&tasks))
	assert.GreaterOrEqual(s.T(), tasks, 5)
}

func (s *IntegrationSuite) TestInvalidTransitionRejected() {
	o := s.createOrder()

	resp, body := s.doRequest(http.MethodPut, "/orders-status/"+o.ID,
		map[string]string{"status": "delivered"})
	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)

	var got struct {
		CurrentStatus    string   `json:"current_status"`
		ValidTransitions []string `json:"valid_transitions"`
	}
	require.NoError(s.T(), json.Unmarshal(body, &got))
	assert.Equal(s.T(), "pending", got.CurrentStatus)
	assert.Equal(s.T(), []string{"processing", "cancelled"}, got.ValidTransitions)

	// No ledger row for the rejected transition.
	resp, body = s.doRequest(http.MethodGet, "/orders-history/"+o.ID, nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var events []models.TrackingEvent
	require.NoError(s.T(), json.Unmarshal(body, &events))
	assert.Len(s.T(), events, 1)
}

func (s *IntegrationSuite) TestCarrierAssignment() {
	o := s.createOrder()

	resp, body := s.doRequest(http.MethodPut, "/orders-carrier/"+o.ID,
		map[string]string{"carrier_id": "carr-int-1"})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var got models.Order
	require.NoError(s.T(), json.Unmarshal(body, &got))
	require.NotNil(s.T(), got.CarrierID)
	assert.Equal(s.T(), "carr-int-1", *got.CarrierID)

	resp, _ = s.doRequest(http.MethodPut, "/orders-carrier/"+o.ID,
		map[string]string{"carrier_id": "carr-unknown"})
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
}

func (s *IntegrationSuite) TestDeleteOrderCascades() {
	o := s.createOrder()

	resp, _ := s.doRequest(http.MethodDelete, "/orders/"+o.ID, nil)
	assert.Equal(s.T(), http.StatusNoContent, resp.StatusCode)

	var events int
	require.NoError(s.T(), s.db.QueryRow(
		"SELECT COUNT(*) FROM tracking_events WHERE order_id=$1", o.ID).Scan(&events))
	assert.Zero(s.T(), events, "ledger rows removed with the order")

	resp, _ = s.doRequest(http.MethodDelete, "/orders/"+o.ID, nil)
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
}

func (s *IntegrationSuite) TestDashboard() {
	s.createOrder()

	resp, body := s.doRequest(http.MethodGet, "/dashboard", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var m stats.DashboardMetrics
	require.NoError(s.T(), json.Unmarshal(body, &m))
	assert.GreaterOrEqual(s.T(), m.TotalOrders, int64(1))
	assert.GreaterOrEqual(s.T(), m.PendingOrders, int64(1))
	assert.True(s.T(), m.TotalRevenue.IsPositive())
}

func (s *IntegrationSuite) TestListOrdersPagination() {
	s.createOrder()
	s.createOrder()

	resp, body := s.doRequest(http.MethodGet, "/orders?cursor=&limit=1", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var page []models.Order
	require.NoError(s.T(), json.Unmarshal(body, &page))
	require.Len(s.T(), page, 1)

	resp, body = s.doRequest(http.MethodGet, "/orders?cursor="+page[0].ID+"&limit=50", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var rest []models.Order
	require.NoError(s.T(), json.Unmarshal(body, &rest))
	for _, o := range rest {
		assert.Greater(s.T(), o.ID, page[0].ID)
	}
}
