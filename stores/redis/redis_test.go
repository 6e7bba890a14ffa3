package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ca "github.com/panyam/campusauth"
	"github.com/panyam/campusauth/stores/redis"
	"github.com/panyam/campusauth/stores/storetest"
)

// setupTestRedis connects to CAMPUSAUTH_TEST_REDIS_ADDR, skipping when unset
// or unreachable. Each test gets its own key prefix.
func setupTestRedis(t *testing.T) (*goredis.Client, string) {
	t.Helper()
	addr := os.Getenv("CAMPUSAUTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAMPUSAUTH_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client, "campusauth-test:" + uuid.NewString()[:8] + ":"
}

func TestRedisChallengeStore(t *testing.T) {
	client, prefix := setupTestRedis(t)
	storetest.TestChallengeStore(t, redis.NewChallengeStore(client, prefix))
}

func TestRedisResetTokenStore(t *testing.T) {
	client, prefix := setupTestRedis(t)
	storetest.TestResetTokenStore(t, redis.NewResetTokenStore(client, prefix))
}

func TestRedisChallengeStore_TTL(t *testing.T) {
	client, prefix := setupTestRedis(t)
	store := redis.NewChallengeStore(client, prefix)
	ctx := context.Background()

	now := time.Now()
	c := &ca.Challenge{ID: "c1", PrincipalID: "p1", Method: ca.DeliveryEmail, CodeHash: ca.HashToken("123456"), CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, store.ReplaceChallenge(ctx, c))

	ttl := client.TTL(ctx, prefix+"challenge:p1").Val()
	assert.True(t, ttl > 5*time.Minute && ttl <= 5*time.Minute+redis.DefaultRetention, "ttl %v", ttl)

	got, err := store.GetChallenge(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt))
}
