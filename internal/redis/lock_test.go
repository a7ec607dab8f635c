package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Locker = (*Client)(nil)

func TestDebitLockKey(t *testing.T) {
	id := uuid.MustParse("7d8f6c2a-1b3e-4f5a-9c0d-2e4f6a8b0c1d")
	assert.Equal(t, "client:7d8f6c2a-1b3e-4f5a-9c0d-2e4f6a8b0c1d:debit", DebitLockKey(id))
	assert.NotEqual(t, DebitLockKey(id), DebitLockKey(uuid.New()))
}

func TestNopLocker(t *testing.T) {
	release, err := NopLocker{}.Acquire(context.Background(), "any", time.Second)
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}

func TestPrefixKey(t *testing.T) {
	c := &Client{keyPrefix: "dbo:"}
	assert.Equal(t, "dbo:lock:client:1:debit", c.prefixKey("lock:client:1:debit"))
}
