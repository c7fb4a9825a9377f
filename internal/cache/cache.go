package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"freightdesk/internal/models"
)

// ReferenceSource is the read surface the cache refreshes from.
type ReferenceSource interface {
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
	ListCarriers(ctx context.Context) ([]*models.Carrier, error)
	ListDrivers(ctx context.Context) ([]*models.Driver, error)
}

// ReferenceCache holds a periodically refreshed snapshot of the
// customer/carrier/driver reference data. Orders are never cached here:
// dashboard numbers must always come from the store.
type ReferenceCache struct {
	mu        sync.RWMutex
	customers map[string]*models.Customer
	carriers  map[string]*models.Carrier
	drivers   map[string]*models.Driver
}

func NewReferenceCache() *ReferenceCache {
	return &ReferenceCache{
		customers: make(map[string]*models.Customer),
		carriers:  make(map[string]*models.Carrier),
		drivers:   make(map[string]*models.Driver),
	}
}

func (c *ReferenceCache) Refresh(ctx context.Context, src ReferenceSource) error {
	customers, err := src.ListCustomers(ctx)
	if err != nil {
		return err
	}
	carriers, err := src.ListCarriers(ctx)
	if err != nil {
		return err
	}
	drivers, err := src.ListDrivers(ctx)
	if err != nil {
		return err
	}

	cm := make(map[string]*models.Customer, len(customers))
	for _, x := range customers {
		cm[x.ID] = x
	}
	am := make(map[string]*models.Carrier, len(carriers))
	for _, x := range carriers {
		am[x.ID] = x
	}
	dm := make(map[string]*models.Driver, len(drivers))
	for _, x := range drivers {
		dm[x.ID] = x
	}

	c.mu.Lock()
	c.customers, c.carriers, c.drivers = cm, am, dm
	c.mu.Unlock()
	return nil
}

func (c *ReferenceCache) Customer(id string) (*models.Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	x, ok := c.customers[id]
	return x, ok
}

func (c *ReferenceCache) Carrier(id string) (*models.Carrier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	x, ok := c.carriers[id]
	return x, ok
}

func (c *ReferenceCache) Driver(id string) (*models.Driver, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	x, ok := c.drivers[id]
	return x, ok
}

func (c *ReferenceCache) StartAutoRefresh(ctx context.Context, src ReferenceSource, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx, src); err != nil {
				log.Error("reference cache refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
