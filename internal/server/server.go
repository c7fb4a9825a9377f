package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freightdesk/internal/audit"
	"freightdesk/internal/cache"
	"freightdesk/internal/config"
	"freightdesk/internal/lifecycle"
	"freightdesk/internal/metrics"
	"freightdesk/internal/middleware"
	"freightdesk/internal/models"
	"freightdesk/internal/stats"
)

// Engine is the lifecycle surface the handlers dispatch into.
type Engine interface {
	CreateOrder(ctx context.Context, in lifecycle.CreateOrderInput) (*models.Order, error)
	TransitionStatus(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.Order, error)
	AssignCarrier(ctx context.Context, orderID string, carrierID *string) (*models.Order, error)
	AssignDriver(ctx context.Context, orderID string, driverID *string) (*models.Order, error)
	UpdateETA(ctx context.Context, orderID string, eta time.Time) (*models.Order, error)
	UpdateNotes(ctx context.Context, orderID string, notes string) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID string) (bool, error)
}

// OrderReader covers the read paths that bypass the engine.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, cursor string, limit int64, customerID string) ([]*models.Order, error)
	ListAll(ctx context.Context) ([]*models.Order, error)
}

type HistoryReader interface {
	History(ctx context.Context, orderID string) ([]*models.TrackingEvent, error)
}

type Aggregator interface {
	Dashboard(ctx context.Context) (*stats.DashboardMetrics, error)
	CustomerStats(customers []*models.Customer, orders []*models.Order) []*stats.CustomerWithStats
	CarrierStats(carriers []*models.Carrier, drivers []*models.Driver, orders []*models.Order) []*stats.CarrierWithStats
}

// ReferenceStore resolves customer/carrier/driver references. The handlers
// run the referential checks the engine deliberately does not.
type ReferenceStore interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetCarrier(ctx context.Context, id string) (*models.Carrier, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
	ListCarriers(ctx context.Context) ([]*models.Carrier, error)
	ListDrivers(ctx context.Context) ([]*models.Driver, error)
}

type Server struct {
	engine   Engine
	orders   OrderReader
	history  HistoryReader
	agg      Aggregator
	refs     ReferenceStore
	refCache *cache.ReferenceCache
	audit    *audit.WorkerPool
	log      *slog.Logger

	user     string
	password string
	addr     string
}

func NewServer(engine Engine, orders OrderReader, history HistoryReader, agg Aggregator,
	refs ReferenceStore, refCache *cache.ReferenceCache, auditPool *audit.WorkerPool,
	log *slog.Logger, cfg *config.Config) *Server {
	return &Server{
		engine:   engine,
		orders:   orders,
		history:  history,
		agg:      agg,
		refs:     refs,
		refCache: refCache,
		audit:    auditPool,
		log:      log,
		user:     cfg.Username,
		password: cfg.Password,
		addr:     cfg.Addr(),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mutating := []string{"POST", "PUT", "DELETE"}

	s.handleWith(mux, "orders", "/orders", s.handleOrders, mutating)
	s.handleWith(mux, "order", "/orders/", s.handleOrderOne, mutating)
	s.handleWith(mux, "order_status", "/orders-status/", s.handleTransition, mutating)
	s.handleWith(mux, "order_payment", "/orders-payment/", s.handlePayment, mutating)
	s.handleWith(mux, "order_carrier", "/orders-carrier/", s.handleCarrier, mutating)
	s.handleWith(mux, "order_driver", "/orders-driver/", s.handleDriver, mutating)
	s.handleWith(mux, "order_eta", "/orders-eta/", s.handleETA, mutating)
	s.handleWith(mux, "order_notes", "/orders-notes/", s.handleNotes, mutating)
	s.handleWith(mux, "order_history", "/orders-history/", s.handleHistory, nil)
	s.handleWith(mux, "dashboard", "/dashboard", s.handleDashboard, nil)
	s.handleWith(mux, "customers", "/customers", s.handleCustomers, nil)
	s.handleWith(mux, "customer_stats", "/customers-stats", s.handleCustomerStats, nil)
	s.handleWith(mux, "carriers", "/carriers", s.handleCarriers, nil)
	s.handleWith(mux, "carrier_stats", "/carriers-stats", s.handleCarrierStats, nil)
	s.handleWith(mux, "drivers", "/drivers", s.handleDrivers, nil)

	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Run() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.log.Info("server listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleWith(mux *http.ServeMux, name, path string, handlerFunc http.HandlerFunc, guardedMethods []string) {
	var h http.Handler = handlerFunc
	if len(guardedMethods) > 0 {
		h = middleware.BasicAuthMiddleware(s.user, s.password, guardedMethods...)(h)
		if s.audit != nil {
			h = middleware.AuditMiddleware(s.audit, orderIDFromPath, guardedMethods...)(h)
		}
	}
	h = middleware.MetricsMiddleware(name)(h)
	mux.Handle(path, h)
}

// orderIDFromPath extracts the order id for the audit trail from the
// prefix-routed paths.
func orderIDFromPath(r *http.Request) string {
	p := r.URL.Path
	for _, prefix := range []string{
		"/orders-status/", "/orders-payment/", "/orders-carrier/", "/orders-driver/",
		"/orders-eta/", "/orders-notes/", "/orders-history/", "/orders/",
	} {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix)
		}
	}
	return ""
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateOrder(w, r)
	case http.MethodGet:
		s.handleListOrders(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOrderOne(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetOrder(w, r, id)
	case http.MethodDelete:
		s.handleDeleteOrder(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	if in.CustomerID != "" {
		if ok, err := s.customerExists(r.Context(), in.CustomerID); err != nil {
			s.internalError(w, err)
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, map[string]string{"error": "customer not found", "customer_id": in.CustomerID})
			return
		}
	}
	o, err := s.engine.CreateOrder(r.Context(), in)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := strconv.ParseInt(q.Get("limit"), 10, 64)
	if err != nil {
		limit = 50
	}
	orders, err := s.orders.List(r.Context(), q.Get("cursor"), limit, q.Get("customer_id"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, id string) {
	o, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, map[string]string{"error": "order not found", "order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := s.engine.DeleteOrder(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, map[string]string{"error": "order not found", "order_id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-status/")
	if !ok {
		return
	}
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}

	o, err := s.engine.TransitionStatus(r.Context(), id, req.Status)
	var conflict *lifecycle.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		// One bounded retry; the engine revalidates against the fresh state.
		o, err = s.engine.TransitionStatus(r.Context(), id, req.Status)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(req.Status)).Inc()
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-payment/")
	if !ok {
		return
	}
	var req struct {
		PaymentStatus models.PaymentStatus `json:"payment_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	o, err := s.engine.UpdatePaymentStatus(r.Context(), id, req.PaymentStatus)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCarrier(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-carrier/")
	if !ok {
		return
	}
	var req struct {
		CarrierID *string `json:"carrier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	if req.CarrierID != nil {
		if ok, err := s.carrierExists(r.Context(), *req.CarrierID); err != nil {
			s.internalError(w, err)
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, map[string]string{"error": "carrier not found", "carrier_id": *req.CarrierID})
			return
		}
	}
	o, err := s.engine.AssignCarrier(r.Context(), id, req.CarrierID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-driver/")
	if !ok {
		return
	}
	var req struct {
		DriverID *string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	if req.DriverID != nil {
		if ok, err := s.driverExists(r.Context(), *req.DriverID); err != nil {
			s.internalError(w, err)
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, map[string]string{"error": "driver not found", "driver_id": *req.DriverID})
			return
		}
	}
	o, err := s.engine.AssignDriver(r.Context(), id, req.DriverID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-eta/")
	if !ok {
		return
	}
	var req struct {
		DeliveryDate time.Time `json:"delivery_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	o, err := s.engine.UpdateETA(r.Context(), id, req.DeliveryDate)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := idForPut(w, r, "/orders-notes/")
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
		return
	}
	o, err := s.engine.UpdateNotes(r.Context(), id, req.Notes)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/orders-history/")
	if id == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}
	o, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, map[string]string{"error": "order not found", "order_id": id})
		return
	}
	events, err := s.history.History(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m, err := s.agg.Dashboard(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.refs.ListCustomers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleCustomerStats(w http.ResponseWriter, r *http.Request) {
	customers, err := s.refs.ListCustomers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	orders, err := s.orders.ListAll(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agg.CustomerStats(customers, orders))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	carriers, err := s.refs.ListCarriers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, carriers)
}

func (s *Server) handleCarrierStats(w http.ResponseWriter, r *http.Request) {
	carriers, err := s.refs.ListCarriers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	drivers, err := s.refs.ListDrivers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	orders, err := s.orders.ListAll(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agg.CarrierStats(carriers, drivers, orders))
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.refs.ListDrivers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) customerExists(ctx context.Context, id string) (bool, error) {
	if s.refCache != nil {
		if _, ok := s.refCache.Customer(id); ok {
			return true, nil
		}
	}
	c, err := s.refs.GetCustomer(ctx, id)
	return c != nil, err
}

func (s *Server) carrierExists(ctx context.Context, id string) (bool, error) {
	if s.refCache != nil {
		if _, ok := s.refCache.Carrier(id); ok {
			return true, nil
		}
	}
	c, err := s.refs.GetCarrier(ctx, id)
	return c != nil, err
}

func (s *Server) driverExists(ctx context.Context, id string) (bool, error) {
	if s.refCache != nil {
		if _, ok := s.refCache.Driver(id); ok {
			return true, nil
		}
	}
	d, err := s.refs.GetDriver(ctx, id)
	return d != nil, err
}

// writeEngineError maps the lifecycle error taxonomy onto HTTP codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var ve *lifecycle.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, map[string]string{
			"error": "validation failed", "field": ve.Field, "reason": ve.Reason,
		})
		return
	}
	var nf *lifecycle.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, map[string]string{
			"error": nf.Entity + " not found", "id": nf.ID,
		})
		return
	}
	var it *lifecycle.InvalidTransitionError
	if errors.As(err, &it) {
		writeError(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid status transition",
			"current_status":    it.Current,
			"attempted_status":  it.Attempted,
			"valid_transitions": it.Valid,
		})
		return
	}
	var cc *lifecycle.ConcurrencyConflictError
	if errors.As(err, &cc) {
		writeError(w, http.StatusConflict, map[string]string{
			"error": "concurrent update, retry", "order_id": cc.OrderID,
		})
		return
	}
	s.internalError(w, err)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func idForPut(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, body any) {
	writeJSON(w, code, body)
}
