package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/redis"
	"github.com/stretchr/testify/assert"
)

type memIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{entries: make(map[string][]byte)}
}

func (m *memIdempotencyStore) Reserve(_ context.Context, key string, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		m.entries[key] = nil
		return nil, nil
	}
	if v == nil {
		return nil, redis.ErrKeyInFlight
	}
	return v, nil
}

func (m *memIdempotencyStore) Complete(_ context.Context, key string, response []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = response
	return nil
}

func (m *memIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	calls := 0
	mw := NewIdempotency(newMemIdempotencyStore(), time.Hour)
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"abc"}`))
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/service-requests", nil)
		req.Header.Set(IdempotencyKeyHeader, "k-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, `{"id":"abc"}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(IdempotencyReplayedHeader))
	assert.Empty(t, first.Header().Get(IdempotencyReplayedHeader))
}

func TestIdempotencyKeyIncludesQuery(t *testing.T) {
	var served []string
	mw := NewIdempotency(newMemIdempotencyStore(), time.Hour)
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.URL.Query().Get("client_id")
		served = append(served, client)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"client":"` + client + `"}`))
	}))

	send := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/services/s-1/connect?client_id="+client, nil)
		req.Header.Set(IdempotencyKeyHeader, "k-4")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	a := send("A")
	b := send("B")
	again := send("B")

	assert.Equal(t, []string{"A", "B"}, served)
	assert.JSONEq(t, `{"client":"A"}`, a.Body.String())
	assert.JSONEq(t, `{"client":"B"}`, b.Body.String())
	assert.Empty(t, b.Header().Get(IdempotencyReplayedHeader))
	assert.Equal(t, "true", again.Header().Get(IdempotencyReplayedHeader))
	assert.JSONEq(t, `{"client":"B"}`, again.Body.String())
}

func TestIdempotencyReleasesOnServerError(t *testing.T) {
	calls := 0
	mw := NewIdempotency(newMemIdempotencyStore(), time.Hour)
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)
		req.Header.Set(IdempotencyKeyHeader, "k-2")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 2, calls)
}

func TestIdempotencyInFlight(t *testing.T) {
	store := newMemIdempotencyStore()
	store.entries["POST:/api/v1/transfers:k-3"] = nil

	mw := NewIdempotency(store, time.Hour)
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)
	req.Header.Set(IdempotencyKeyHeader, "k-3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotencyPassThrough(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	// no store configured
	NewIdempotency(nil, time.Hour).Middleware(next).
		ServeHTTP(httptest.NewRecorder(), withKey(httptest.NewRequest(http.MethodPost, "/x", nil)))
	// no header
	NewIdempotency(newMemIdempotencyStore(), time.Hour).Middleware(next).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, 2, calls)
}

func withKey(r *http.Request) *http.Request {
	r.Header.Set(IdempotencyKeyHeader, "k")
	return r
}
