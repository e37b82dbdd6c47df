package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, generic.ErrCacheMiss)
}

func TestInMemoryCache_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, err := c.Get(ctx, "k")
	assert.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, generic.ErrCacheMiss)
}

func TestInMemoryCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, generic.ErrCacheMiss)
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	ledger := residency.Ledger{
		{Date: generic.NewDate(2024, time.December, 23), LocationAtMidnight: "Canada", LocationsDuringDay: []string{"Canada"}},
		{Date: generic.NewDate(2024, time.December, 24), LocationAtMidnight: residency.InTransit, InTransitAtMidnight: true, LocationsDuringDay: []string{}},
	}

	require.NoError(t, SetLedger(ctx, c, "ledger:x", ledger, time.Hour))
	got, err := GetLedger(ctx, c, "ledger:x")

	require.NoError(t, err)
	assert.Equal(t, ledger, got)

	_, err = GetLedger(ctx, c, "ledger:missing")
	assert.ErrorIs(t, err, generic.ErrCacheMiss)
}

// deadRedis points at a port nothing listens on.
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewRedisCache_PingFailure(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "127.0.0.1:1", "", 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisCache_ErrorsAreNotMisses(t *testing.T) {
	// GIVEN: A Redis cache whose server is gone
	ctx := context.Background()
	c := NewRedisCacheFromClient(deadRedis())
	defer c.Close()

	// WHEN: Reading a ledger
	_, err := GetLedger(ctx, c, "ledger:x")

	// THEN: The failure surfaces as an error, not as a cache miss
	require.Error(t, err)
	assert.NotErrorIs(t, err, generic.ErrCacheMiss)
	assert.Error(t, c.Set(ctx, "k", []byte("v"), time.Minute))
}
