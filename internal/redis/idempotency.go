package redis

import (
	"context"
	"errors"
	"time"
)

// ErrKeyInFlight means another request with the same idempotency key is
// still being processed.
var ErrKeyInFlight = errors.New("idempotency key is in flight")

const pendingMarker = "pending"

// Reserve claims key for a new request. It returns the stored response when
// the key already completed, ErrKeyInFlight when it is still pending, and
// (nil, nil) when the caller now owns the key and must Complete or Release it.
func (c *Client) Reserve(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	prefixedKey := c.prefixKey("idempotency:" + key)

	set, err := c.rdb.SetNX(ctx, prefixedKey, pendingMarker, ttl).Result()
	if err != nil {
		return nil, err
	}
	if set {
		return nil, nil
	}

	val, err := c.rdb.Get(ctx, prefixedKey).Bytes()
	if err != nil {
		return nil, err
	}
	if string(val) == pendingMarker {
		return nil, ErrKeyInFlight
	}
	return val, nil
}

// Complete stores the response replayed to later requests with the same key.
func (c *Client) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefixKey("idempotency:"+key), response, ttl).Err()
}

// Release forgets key so the request can be retried.
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefixKey("idempotency:"+key)).Err()
}
