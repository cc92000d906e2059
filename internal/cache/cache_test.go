package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Korner-san/bevisible/internal/cache"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "del:key", []byte("bye"), 10*time.Second))

	err := rc.Delete(ctx, "del:key")
	require.NoError(t, err)

	_, found, err := rc.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Account leases ---

func TestAcquireLease_Exclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	accountID := uuid.New()

	token, ok, err := rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	// Second claimant is refused while the first holds the lease.
	_, ok, err = rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rc.ReleaseLease(ctx, accountID, token))

	_, ok, err = rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLease_WrongTokenKeepsLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, ok, err := rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder releasing with the wrong token must not free the lease.
	require.NoError(t, rc.ReleaseLease(ctx, accountID, "stale-token"))

	_, ok, err = rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireLease_ExpiresWithTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, ok, err := rc.AcquireLease(ctx, accountID, 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	_, ok, err = rc.AcquireLease(ctx, accountID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

// --- Cache Key Builders ---

func TestAccountLeaseKey(t *testing.T) {
	accountID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	key := cache.AccountLeaseKey(accountID)
	assert.Equal(t, "account:lease:11111111-1111-1111-1111-111111111111", key)
}

func TestReportStatusKey(t *testing.T) {
	reportID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := cache.ReportStatusKey(reportID)
	assert.Equal(t, "report:status:22222222-2222-2222-2222-222222222222", key)
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("bv_abcd1234")
	assert.Equal(t, "ratelimit:bv_abcd1234", key)
}
