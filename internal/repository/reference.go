package repository

import (
	"context"
	"database/sql"
	"fmt"

	"freightdesk/internal/models"
)

// ReferenceRepository reads the customer/carrier/driver reference data the
// core consumes for referential checks and stats. The rows are read-only
// from the core's perspective; Create methods exist for seeding and tests.
type ReferenceRepository struct {
	db *sql.DB
}

func NewReferenceRepository(db *sql.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (r *ReferenceRepository) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c := &models.Customer{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, created_at FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (r *ReferenceRepository) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, phone, address, created_at FROM customers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var res []*models.Customer
	for rows.Next() {
		c := &models.Customer{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ReferenceRepository) CreateCarrier(ctx context.Context, c *models.Carrier) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carriers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.Name, c.Phone, c.Email, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create carrier: %w", err)
	}
	return nil
}

func (r *ReferenceRepository) GetCarrier(ctx context.Context, id string) (*models.Carrier, error) {
	c := &models.Carrier{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at FROM carriers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get carrier: %w", err)
	}
	return c, nil
}

func (r *ReferenceRepository) ListCarriers(ctx context.Context) ([]*models.Carrier, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at FROM carriers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	defer rows.Close()

	var res []*models.Carrier
	for rows.Next() {
		c := &models.Carrier{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ReferenceRepository) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drivers (id, carrier_id, name, phone, license, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.CarrierID, d.Name, d.Phone, d.License, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	return nil
}

func (r *ReferenceRepository) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	d := &models.Driver{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, carrier_id, name, phone, license, created_at FROM drivers WHERE id=$1`, id).
		Scan(&d.ID, &d.CarrierID, &d.Name, &d.Phone, &d.License, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get driver: %w", err)
	}
	return d, nil
}

func (r *ReferenceRepository) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, carrier_id, name, phone, license, created_at FROM drivers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	var res []*models.Driver
	for rows.Next() {
		d := &models.Driver{}
		if err := rows.Scan(&d.ID, &d.CarrierID, &d.Name, &d.Phone, &d.License, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
