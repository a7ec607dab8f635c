package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finanspro/dbo/internal/redis"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotent-Replayed"
)

// IdempotencyStore is implemented by *redis.Client.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type Idempotency struct {
	store IdempotencyStore
	ttl   time.Duration
}

func NewIdempotency(store IdempotencyStore, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header, and every request when no store is
// configured, pass straight through. Keys are scoped to the caller and the
// full request URI.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if i == nil || i.store == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := GetLogger(ctx)
		if sess, ok := GetSession(ctx); ok {
			key = sess.UserID.String() + ":" + key
		}
		// The query selects the target client on staff calls, so it is part
		// of the key.
		key = r.Method + ":" + r.URL.RequestURI() + ":" + key

		cached, err := i.store.Reserve(ctx, key, i.ttl)
		switch {
		case errors.Is(err, redis.ErrKeyInFlight):
			writeJSONError(w, http.StatusConflict, "invalid_state", "a request with this idempotency key is still in progress")
			return
		case err != nil:
			// Fail open when Redis is unavailable.
			logger.Warn().Err(err).Msg("idempotency store unavailable, processing without replay protection")
			next.ServeHTTP(w, r)
			return
		case cached != nil:
			var stored storedResponse
			if err := json.Unmarshal(cached, &stored); err != nil {
				logger.Error().Err(err).Msg("corrupt idempotency record")
				writeJSONError(w, http.StatusInternalServerError, "internal", "corrupt idempotency record")
				return
			}
			logger.Info().Msg("replaying idempotent response")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotencyReplayedHeader, "true")
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		storeCtx := context.WithoutCancel(ctx)
		if rec.status >= http.StatusInternalServerError {
			if err := i.store.Release(storeCtx, key); err != nil {
				logger.Warn().Err(err).Msg("failed to release idempotency key")
			}
			return
		}

		payload, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
		if err := i.store.Complete(storeCtx, key, payload, i.ttl); err != nil {
			logger.Warn().Err(err).Msg("failed to store idempotent response")
		}
	})
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}
