// Package catalog exposes the purchasable services and turns approved
// service requests into catalog entries.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CatalogService struct {
	store            store.Store
	fallbackCategory string
	currency         string
}

func NewCatalogService(st store.Store, cfg config.WorkflowConfig) *CatalogService {
	return &CatalogService{
		store:            st,
		fallbackCategory: cfg.FallbackCategory,
		currency:         cfg.DefaultCurrency,
	}
}

type ListInput struct {
	// Category is a category id or an exact category name.
	Category  string
	PriceBand store.PriceBand
	Search    string
	Sort      store.CatalogSort
}

// visibility resolves what sess may see. Staff see everything; clients see
// public services, and privileged ones only when they are privileged.
func visibility(ctx context.Context, tx store.Tx, sess model.Session) (includePrivileged, includeInternal bool, err error) {
	if sess.Role != model.RoleClient {
		return true, true, nil
	}
	if sess.ClientID == nil {
		return false, false, apperror.Forbidden("client session without client id")
	}
	client, err := tx.GetClient(ctx, *sess.ClientID)
	if err != nil {
		return false, false, store.Classify(err, "client", *sess.ClientID)
	}
	return client.IsPrivileged, false, nil
}

func (cs *CatalogService) List(ctx context.Context, sess model.Session, in ListInput) ([]*model.Service, error) {
	logger := middleware.GetLogger(ctx)

	if !in.PriceBand.Valid() {
		return nil, apperror.Validation("unknown price band %q", in.PriceBand)
	}
	if !in.Sort.Valid() {
		return nil, apperror.Validation("unknown sort %q", in.Sort)
	}

	var services []*model.Service
	err := cs.store.InTx(ctx, func(tx store.Tx) error {
		privileged, internal, err := visibility(ctx, tx, sess)
		if err != nil {
			return err
		}

		filter := store.CatalogFilter{
			PriceBand:         in.PriceBand,
			Search:            in.Search,
			Sort:              in.Sort,
			IncludePrivileged: privileged,
			IncludeInternal:   internal,
		}

		if category := strings.TrimSpace(in.Category); category != "" {
			id, err := uuid.Parse(category)
			if err != nil {
				cat, err := tx.GetCategoryByName(ctx, category)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				if err != nil {
					return store.Classify(err, "category", category)
				}
				id = cat.ID
			}
			filter.CategoryID = &id
		}

		services, err = tx.ListServices(ctx, filter)
		return store.Classify(err, "services", "catalog")
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list catalog")
		return nil, apperror.Ensure(err, "failed to list catalog")
	}

	logger.Debug().Int("count", len(services)).Msg("Catalog listed")
	return services, nil
}

// Get returns a service the session is allowed to see. Hidden and inactive
// services are reported as missing to clients.
func (cs *CatalogService) Get(ctx context.Context, sess model.Session, serviceID uuid.UUID) (*model.Service, error) {
	var service *model.Service
	err := cs.store.InTx(ctx, func(tx store.Tx) error {
		privileged, internal, err := visibility(ctx, tx, sess)
		if err != nil {
			return err
		}

		s, err := tx.GetService(ctx, serviceID)
		if err != nil {
			return store.Classify(err, "service", serviceID)
		}
		if internal {
			service = s
			return nil
		}

		public, err := tx.ListCategories(ctx, false)
		if err != nil {
			return store.Classify(err, "categories", "catalog")
		}
		if !s.IsActive || !s.IsPublic || (s.IsPrivileged && !privileged) || !containsCategory(public, s.CategoryID) {
			return apperror.NotFound("service %s not found", serviceID)
		}
		service = s
		return nil
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to get service")
	}
	return service, nil
}

func containsCategory(categories []*model.ServiceCategory, id uuid.UUID) bool {
	for _, c := range categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (cs *CatalogService) Categories(ctx context.Context, sess model.Session) ([]*model.ServiceCategory, error) {
	var categories []*model.ServiceCategory
	err := cs.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		categories, err = tx.ListCategories(ctx, sess.Role != model.RoleClient)
		return store.Classify(err, "categories", "catalog")
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to list categories")
	}
	return categories, nil
}

// MaterializeFromRequest creates the catalog entry for an approved request
// inside tx. Every call creates a new service; callers guarantee it runs
// once per approval.
func (cs *CatalogService) MaterializeFromRequest(ctx context.Context, tx store.Tx, req *model.ServiceRequest) (*model.Service, error) {
	category := &model.ServiceCategory{
		ID:       uuid.New(),
		Name:     cs.fallbackCategory,
		IsPublic: true,
	}
	if err := tx.EnsureCategory(ctx, category); err != nil {
		return nil, store.Classify(err, "category", cs.fallbackCategory)
	}

	service := &model.Service{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  category.ID,
		Price:       req.Price,
		Currency:    cs.currency,
		IsActive:    true,
		IsPublic:    true,
		Rating:      decimal.Zero,
		RatingCount: 0,
	}
	if err := tx.CreateService(ctx, service); err != nil {
		return nil, store.Classify(err, "service", service.ID)
	}

	middleware.GetLogger(ctx).Info().
		Str("service_id", service.ID.String()).
		Str("request_id", req.ID.String()).
		Str("category", category.Name).
		Msg("Service materialized from request")
	return service, nil
}
