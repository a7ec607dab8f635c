package postgres

import (
	"context"

	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (t *tx) GetCategoryByName(ctx context.Context, name string) (*model.ServiceCategory, error) {
	var c model.ServiceCategory
	err := t.q.QueryRow(ctx, `
		SELECT id, name, is_public, created_at, updated_at
		FROM service_categories WHERE name = $1`, name,
	).Scan(&c.ID, &c.Name, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "select category")
	}
	return &c, nil
}

// EnsureCategory relies on the upsert so that concurrent approvals racing
// to create the fallback category both see the same row.
func (t *tx) EnsureCategory(ctx context.Context, c *model.ServiceCategory) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO service_categories (id, name, is_public)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, is_public, created_at, updated_at`,
		c.ID, c.Name, c.IsPublic,
	).Scan(&c.ID, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
	return mapErr(err, "ensure category")
}

func (t *tx) ListCategories(ctx context.Context, includeInternal bool) ([]*model.ServiceCategory, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, name, is_public, created_at, updated_at
		FROM service_categories
		WHERE is_public OR $1
		ORDER BY name`, includeInternal)
	if err != nil {
		return nil, mapErr(err, "list categories")
	}
	defer rows.Close()

	var out []*model.ServiceCategory
	for rows.Next() {
		var c model.ServiceCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, mapErr(err, "scan category")
		}
		out = append(out, &c)
	}
	return out, mapErr(rows.Err(), "list categories")
}

func scanService(row pgx.Row) (*model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.CategoryID, &s.Price, &s.Currency,
		&s.IsActive, &s.IsPublic, &s.IsPrivileged, &s.Rating, &s.RatingCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) CreateService(ctx context.Context, s *model.Service) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO services (id, name, description, category_id, price, currency, is_active, is_public, is_privileged, rating, rating_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.Description, s.CategoryID, s.Price, s.Currency,
		s.IsActive, s.IsPublic, s.IsPrivileged, s.Rating, s.RatingCount,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "insert service")
}

func (t *tx) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	s, err := scanService(t.q.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.id = $1`, id))
	return s, mapErr(err, "select service")
}

func (t *tx) ListServices(ctx context.Context, f store.CatalogFilter) ([]*model.Service, error) {
	sql, args := buildCatalogQuery(f)
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "list services")
	}
	defer rows.Close()

	var out []*model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, mapErr(err, "scan service")
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err(), "list services")
}

func scanRequest(row pgx.Row) (*model.ServiceRequest, error) {
	var r model.ServiceRequest
	err := row.Scan(&r.ID, &r.ClientID, &r.Name, &r.Description, &r.Price, &r.Status,
		&r.ReviewedBy, &r.ReviewedAt, &r.ServiceID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) CreateServiceRequest(ctx context.Context, r *model.ServiceRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO service_requests (id, client_id, name, description, price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		r.ID, r.ClientID, r.Name, r.Description, r.Price, r.Status,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapErr(err, "insert service request")
}

func (t *tx) GetServiceRequest(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	r, err := scanRequest(t.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id))
	return r, mapErr(err, "select service request")
}

func (t *tx) GetServiceRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	r, err := scanRequest(t.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, id))
	return r, mapErr(err, "lock service request")
}

func (t *tx) UpdateServiceRequest(ctx context.Context, r *model.ServiceRequest) error {
	err := t.q.QueryRow(ctx, `
		UPDATE service_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4, service_id = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.Status, r.ReviewedBy, r.ReviewedAt, r.ServiceID,
	).Scan(&r.UpdatedAt)
	return mapErr(err, "update service request")
}

func (t *tx) ListServiceRequests(ctx context.Context, f store.RequestFilter) ([]*model.ServiceRequest, error) {
	sql, args := buildRequestQuery(f)
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "list service requests")
	}
	defer rows.Close()

	var out []*model.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, mapErr(err, "scan service request")
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err(), "list service requests")
}
