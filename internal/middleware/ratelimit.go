package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/finanspro/dbo/internal/redis"
)

// Limiter is implemented by *redis.Client.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
}

type RateLimit struct {
	limiter Limiter
	limit   int64
	window  time.Duration
}

func NewRateLimit(limiter Limiter, limit int64, window time.Duration) *RateLimit {
	return &RateLimit{limiter: limiter, limit: limit, window: window}
}

// PerUser limits requests per authenticated user under the given scope.
// It fails open when the limiter is missing or unreachable.
func (rl *RateLimit) PerUser(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || rl.limiter == nil || rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := scope + ":" + r.RemoteAddr
			if sess, ok := GetSession(ctx); ok {
				key = scope + ":" + sess.UserID.String()
			}

			res, err := rl.limiter.Allow(ctx, key, rl.limit, rl.window)
			if err != nil {
				GetLogger(ctx).Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				retryAfter := int(time.Until(res.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				GetLogger(ctx).Warn().Str("scope", scope).Msg("rate limit exceeded")
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
