package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock already held")

// Locker serializes work on a key across processes. *Client implements it
// on top of SET NX; NopLocker is used where a single database is the only
// writer.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

// Lock represents a distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// AcquireLock attempts to acquire a distributed lock with a timeout
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	prefixedKey := c.prefixKey("lock:" + key)
	value := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, prefixedKey, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{
		client: c,
		key:    prefixedKey,
		value:  value,
	}, nil
}

// Acquire adapts AcquireLock to the Locker interface. The release func
// logs instead of failing: the TTL frees a lock we could not delete.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := c.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}, nil
}

var releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release releases the lock if it is still held by the owner
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.client.rdb.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	return err
}

// DebitLockKey is the key every balance-reducing operation on a client's
// cards takes before opening its database transaction.
func DebitLockKey(clientID uuid.UUID) string {
	return "client:" + clientID.String() + ":debit"
}
