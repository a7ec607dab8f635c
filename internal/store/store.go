// Package store defines the persistence contract of the DBO core. Every
// workflow operation runs inside Store.InTx so that its read-check-write
// sequence commits or rolls back as a single unit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write,
	// e.g. a second subscription row for the same (client, service).
	ErrConflict = errors.New("store: conflicting record")
)

// Classify turns a store error into the workflow error taxonomy.
func Classify(err error, entity string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("%s %v not found", entity, id)
	case errors.Is(err, ErrConflict):
		return apperror.InvalidState("%s %v conflicts with an existing record", entity, id)
	default:
		return apperror.Ensure(err, "failed to access "+entity)
	}
}

type Store interface {
	// InTx runs fn as one atomic unit. If fn returns an error nothing it
	// wrote is visible to anyone. Implementations must not be re-entered
	// from inside fn.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

type Tx interface {
	CreateClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	SetPrimaryCard(ctx context.Context, clientID uuid.UUID, cardID *uuid.UUID) error

	CreateCard(ctx context.Context, c *model.Card) error
	GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error)
	// GetCardForUpdate locks the card row until the unit ends; balance
	// changes must read the card through it.
	GetCardForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error)
	// ListCards returns the client's cards in opening order.
	ListCards(ctx context.Context, clientID uuid.UUID) ([]*model.Card, error)
	UpdateCardBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	SetCardActive(ctx context.Context, id uuid.UUID, active bool) error

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	ListTransactions(ctx context.Context, cardID uuid.UUID) ([]*model.Transaction, error)

	GetCategoryByName(ctx context.Context, name string) (*model.ServiceCategory, error)
	// EnsureCategory creates c unless a category with the same name exists,
	// in which case c is overwritten with the stored row.
	EnsureCategory(ctx context.Context, c *model.ServiceCategory) error
	ListCategories(ctx context.Context, includeInternal bool) ([]*model.ServiceCategory, error)

	CreateService(ctx context.Context, s *model.Service) error
	GetService(ctx context.Context, id uuid.UUID) (*model.Service, error)
	ListServices(ctx context.Context, f CatalogFilter) ([]*model.Service, error)

	CreateServiceRequest(ctx context.Context, r *model.ServiceRequest) error
	GetServiceRequest(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
	GetServiceRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
	UpdateServiceRequest(ctx context.Context, r *model.ServiceRequest) error
	ListServiceRequests(ctx context.Context, f RequestFilter) ([]*model.ServiceRequest, error)

	GetSubscriptionForUpdate(ctx context.Context, clientID, serviceID uuid.UUID) (*model.ClientService, error)
	// CreateSubscription returns ErrConflict when a row for the same
	// (client, service) already exists.
	CreateSubscription(ctx context.Context, s *model.ClientService) error
	UpdateSubscription(ctx context.Context, s *model.ClientService) error
	ListSubscriptions(ctx context.Context, clientID uuid.UUID) ([]*model.ClientService, error)
	ListDueSubscriptions(ctx context.Context, dueBy time.Time, limit int) ([]*model.ClientService, error)

	InsertAuditEvent(ctx context.Context, e *model.AuditOutbox) error
}

type PriceBand string

const (
	PriceAny    PriceBand = ""
	PriceFree   PriceBand = "free"
	PriceLow    PriceBand = "low"
	PriceMedium PriceBand = "medium"
	PriceHigh   PriceBand = "high"
)

var (
	lowCeiling    = decimal.NewFromInt(1000)
	mediumCeiling = decimal.NewFromInt(5000)
)

func (b PriceBand) Valid() bool {
	switch b {
	case PriceAny, PriceFree, PriceLow, PriceMedium, PriceHigh:
		return true
	}
	return false
}

// Contains reports whether price falls in the band:
// free = 0, low (0, 1000], medium (1000, 5000], high > 5000.
func (b PriceBand) Contains(price decimal.Decimal) bool {
	switch b {
	case PriceFree:
		return price.IsZero()
	case PriceLow:
		return price.IsPositive() && price.LessThanOrEqual(lowCeiling)
	case PriceMedium:
		return price.GreaterThan(lowCeiling) && price.LessThanOrEqual(mediumCeiling)
	case PriceHigh:
		return price.GreaterThan(mediumCeiling)
	default:
		return true
	}
}

type CatalogSort string

const (
	SortName       CatalogSort = "name"
	SortPriceAsc   CatalogSort = "price_asc"
	SortPriceDesc  CatalogSort = "price_desc"
	SortPopularity CatalogSort = "popularity"
)

func (s CatalogSort) Valid() bool {
	switch s {
	case "", SortName, SortPriceAsc, SortPriceDesc, SortPopularity:
		return true
	}
	return false
}

type CatalogFilter struct {
	CategoryID *uuid.UUID
	PriceBand  PriceBand
	Search     string
	Sort       CatalogSort
	// IncludePrivileged lets privileged clients and staff see privileged services.
	IncludePrivileged bool
	// IncludeInternal lifts the public-flag filter on services and categories.
	IncludeInternal bool
}

type RequestFilter struct {
	ClientID *uuid.UUID
	Status   model.RequestStatus
	// Requests whose name contains ExcludeNameContaining or starts with
	// ExcludeNamePrefix (both case-insensitive) are left out.
	ExcludeNameContaining string
	ExcludeNamePrefix     string
}
