// Package memory is an in-process implementation of store.Store. Units of
// work are serialized by a single mutex and applied copy-on-commit, which
// gives the same atomicity guarantees as the Postgres store for tests and
// local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock replaces the timestamp source used for created/updated columns.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type state struct {
	clients       map[uuid.UUID]model.Client
	cards         map[uuid.UUID]model.Card
	cardOrder     []uuid.UUID
	transactions  []model.Transaction
	categories    map[uuid.UUID]model.ServiceCategory
	categoryOrder []uuid.UUID
	services      map[uuid.UUID]model.Service
	serviceOrder  []uuid.UUID
	requests      map[uuid.UUID]model.ServiceRequest
	requestOrder  []uuid.UUID
	subs          map[uuid.UUID]model.ClientService
	subOrder      []uuid.UUID
	audit         []model.AuditOutbox
}

func newState() *state {
	return &state{
		clients:    make(map[uuid.UUID]model.Client),
		cards:      make(map[uuid.UUID]model.Card),
		categories: make(map[uuid.UUID]model.ServiceCategory),
		services:   make(map[uuid.UUID]model.Service),
		requests:   make(map[uuid.UUID]model.ServiceRequest),
		subs:       make(map[uuid.UUID]model.ClientService),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *state) clone() *state {
	return &state{
		clients:       cloneMap(st.clients),
		cards:         cloneMap(st.cards),
		cardOrder:     append([]uuid.UUID(nil), st.cardOrder...),
		transactions:  append([]model.Transaction(nil), st.transactions...),
		categories:    cloneMap(st.categories),
		categoryOrder: append([]uuid.UUID(nil), st.categoryOrder...),
		services:      cloneMap(st.services),
		serviceOrder:  append([]uuid.UUID(nil), st.serviceOrder...),
		requests:      cloneMap(st.requests),
		requestOrder:  append([]uuid.UUID(nil), st.requestOrder...),
		subs:          cloneMap(st.subs),
		subOrder:      append([]uuid.UUID(nil), st.subOrder...),
		audit:         append([]model.AuditOutbox(nil), st.audit...),
	}
}

type tx struct {
	st  *state
	now func() time.Time
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (t *tx) stamp(m *model.Model) {
	now := t.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// Clients

func (t *tx) CreateClient(ctx context.Context, c *model.Client) error {
	ensureID(&c.ID)
	if _, ok := t.st.clients[c.ID]; ok {
		return store.ErrConflict
	}
	// clients.email is UNIQUE
	for _, existing := range t.st.clients {
		if existing.Email == c.Email {
			return store.ErrConflict
		}
	}
	t.stamp(&c.Model)
	t.st.clients[c.ID] = *c
	return nil
}

func (t *tx) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	c, ok := t.st.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) SetPrimaryCard(ctx context.Context, clientID uuid.UUID, cardID *uuid.UUID) error {
	c, ok := t.st.clients[clientID]
	if !ok {
		return store.ErrNotFound
	}
	if cardID != nil {
		id := *cardID
		c.PrimaryCardID = &id
	} else {
		c.PrimaryCardID = nil
	}
	t.stamp(&c.Model)
	t.st.clients[clientID] = c
	return nil
}

// Cards

func (t *tx) CreateCard(ctx context.Context, c *model.Card) error {
	ensureID(&c.ID)
	if _, ok := t.st.clients[c.ClientID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.st.cards[c.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range t.st.cards {
		if existing.Number == c.Number {
			return store.ErrConflict
		}
	}
	t.stamp(&c.Model)
	t.st.cards[c.ID] = *c
	t.st.cardOrder = append(t.st.cardOrder, c.ID)
	return nil
}

func (t *tx) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	c, ok := t.st.cards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// GetCardForUpdate needs no extra locking: the whole unit already holds
// the store mutex.
func (t *tx) GetCardForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	return t.GetCard(ctx, id)
}

func (t *tx) ListCards(ctx context.Context, clientID uuid.UUID) ([]*model.Card, error) {
	var out []*model.Card
	for _, id := range t.st.cardOrder {
		c := t.st.cards[id]
		if c.ClientID == clientID {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) UpdateCardBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	c, ok := t.st.cards[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Balance = balance
	t.stamp(&c.Model)
	t.st.cards[id] = c
	return nil
}

func (t *tx) SetCardActive(ctx context.Context, id uuid.UUID, active bool) error {
	c, ok := t.st.cards[id]
	if !ok {
		return store.ErrNotFound
	}
	c.IsActive = active
	t.stamp(&c.Model)
	t.st.cards[id] = c
	return nil
}

// Transactions

func (t *tx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	ensureID(&tr.ID)
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now()
	}
	t.st.transactions = append(t.st.transactions, *tr)
	return nil
}

func (t *tx) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for i := len(t.st.transactions) - 1; i >= 0; i-- {
		tr := t.st.transactions[i]
		if (tr.FromCardID != nil && *tr.FromCardID == cardID) || (tr.ToCardID != nil && *tr.ToCardID == cardID) {
			out = append(out, &tr)
		}
	}
	return out, nil
}

// Catalog

func (t *tx) GetCategoryByName(ctx context.Context, name string) (*model.ServiceCategory, error) {
	for _, id := range t.st.categoryOrder {
		c := t.st.categories[id]
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) EnsureCategory(ctx context.Context, c *model.ServiceCategory) error {
	if existing, err := t.GetCategoryByName(ctx, c.Name); err == nil {
		*c = *existing
		return nil
	}
	ensureID(&c.ID)
	t.stamp(&c.Model)
	t.st.categories[c.ID] = *c
	t.st.categoryOrder = append(t.st.categoryOrder, c.ID)
	return nil
}

func (t *tx) ListCategories(ctx context.Context, includeInternal bool) ([]*model.ServiceCategory, error) {
	var out []*model.ServiceCategory
	for _, id := range t.st.categoryOrder {
		c := t.st.categories[id]
		if c.IsPublic || includeInternal {
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) CreateService(ctx context.Context, s *model.Service) error {
	ensureID(&s.ID)
	if _, ok := t.st.categories[s.CategoryID]; !ok {
		return store.ErrNotFound
	}
	t.stamp(&s.Model)
	t.st.services[s.ID] = *s
	t.st.serviceOrder = append(t.st.serviceOrder, s.ID)
	return nil
}

func (t *tx) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	s, ok := t.st.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) ListServices(ctx context.Context, f store.CatalogFilter) ([]*model.Service, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []*model.Service
	for _, id := range t.st.serviceOrder {
		s := t.st.services[id]
		if !s.IsActive {
			continue
		}
		if f.CategoryID != nil && s.CategoryID != *f.CategoryID {
			continue
		}
		if !f.PriceBand.Contains(s.Price) {
			continue
		}
		if s.IsPrivileged && !f.IncludePrivileged {
			continue
		}
		if !f.IncludeInternal && (!s.IsPublic || !t.st.categories[s.CategoryID].IsPublic) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(s.Name), search) &&
			!strings.Contains(strings.ToLower(s.Description), search) {
			continue
		}
		out = append(out, &s)
	}
	sortServices(out, f.Sort)
	return out, nil
}

func sortServices(services []*model.Service, by store.CatalogSort) {
	byName := func(a, b *model.Service) bool {
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	}
	sort.SliceStable(services, func(i, j int) bool {
		a, b := services[i], services[j]
		switch by {
		case store.SortPriceAsc:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		case store.SortPriceDesc:
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
		case store.SortPopularity:
			if a.RatingCount != b.RatingCount {
				return a.RatingCount > b.RatingCount
			}
		}
		return byName(a, b)
	})
}

// Service requests

func (t *tx) CreateServiceRequest(ctx context.Context, r *model.ServiceRequest) error {
	ensureID(&r.ID)
	if _, ok := t.st.clients[r.ClientID]; !ok {
		return store.ErrNotFound
	}
	t.stamp(&r.Model)
	t.st.requests[r.ID] = *r
	t.st.requestOrder = append(t.st.requestOrder, r.ID)
	return nil
}

func (t *tx) GetServiceRequest(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	r, ok := t.st.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) GetServiceRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	return t.GetServiceRequest(ctx, id)
}

func (t *tx) UpdateServiceRequest(ctx context.Context, r *model.ServiceRequest) error {
	if _, ok := t.st.requests[r.ID]; !ok {
		return store.ErrNotFound
	}
	t.stamp(&r.Model)
	t.st.requests[r.ID] = *r
	return nil
}

func (t *tx) ListServiceRequests(ctx context.Context, f store.RequestFilter) ([]*model.ServiceRequest, error) {
	contains := strings.ToLower(f.ExcludeNameContaining)
	prefix := strings.ToLower(f.ExcludeNamePrefix)
	var out []*model.ServiceRequest
	for _, id := range t.st.requestOrder {
		r := t.st.requests[id]
		if f.ClientID != nil && r.ClientID != *f.ClientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		name := strings.ToLower(r.Name)
		if contains != "" && strings.Contains(name, contains) {
			continue
		}
		if prefix != "" && strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// Subscriptions

func (t *tx) findSubscription(clientID, serviceID uuid.UUID) (model.ClientService, bool) {
	for _, id := range t.st.subOrder {
		s := t.st.subs[id]
		if s.ClientID == clientID && s.ServiceID == serviceID {
			return s, true
		}
	}
	return model.ClientService{}, false
}

func (t *tx) GetSubscriptionForUpdate(ctx context.Context, clientID, serviceID uuid.UUID) (*model.ClientService, error) {
	s, ok := t.findSubscription(clientID, serviceID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) CreateSubscription(ctx context.Context, s *model.ClientService) error {
	if _, ok := t.findSubscription(s.ClientID, s.ServiceID); ok {
		return store.ErrConflict
	}
	if _, ok := t.st.clients[s.ClientID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.st.services[s.ServiceID]; !ok {
		return store.ErrNotFound
	}
	ensureID(&s.ID)
	t.stamp(&s.Model)
	t.st.subs[s.ID] = *s
	t.st.subOrder = append(t.st.subOrder, s.ID)
	return nil
}

func (t *tx) UpdateSubscription(ctx context.Context, s *model.ClientService) error {
	if _, ok := t.st.subs[s.ID]; !ok {
		return store.ErrNotFound
	}
	t.stamp(&s.Model)
	t.st.subs[s.ID] = *s
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context, clientID uuid.UUID) ([]*model.ClientService, error) {
	var out []*model.ClientService
	for _, id := range t.st.subOrder {
		s := t.st.subs[id]
		if s.ClientID == clientID {
			out = append(out, &s)
		}
	}
	return out, nil
}

func (t *tx) ListDueSubscriptions(ctx context.Context, dueBy time.Time, limit int) ([]*model.ClientService, error) {
	var out []*model.ClientService
	for _, id := range t.st.subOrder {
		s := t.st.subs[id]
		if s.Status != model.SubscriptionActive || s.NextPaymentDate == nil || s.NextPaymentDate.After(dueBy) {
			continue
		}
		out = append(out, &s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Audit

func (t *tx) InsertAuditEvent(ctx context.Context, e *model.AuditOutbox) error {
	e.ID = int64(len(t.st.audit) + 1)
	if e.Status == "" {
		e.Status = "pending"
	}
	t.stamp(&e.Model)
	t.st.audit = append(t.st.audit, *e)
	return nil
}

// AuditEvents returns a snapshot of the audit outbox, oldest first.
func (s *Store) AuditEvents() []model.AuditOutbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditOutbox(nil), s.state.audit...)
}

// Transactions returns a snapshot of every recorded ledger transaction.
func (s *Store) Transactions() []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Transaction(nil), s.state.transactions...)
}
