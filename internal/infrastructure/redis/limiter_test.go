package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestLimiter_Window(t *testing.T) {
	s, client := newTestRedis(t)
	lim := NewLimiter(client, 2, 500*time.Millisecond, "test:")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := lim.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	s.FastForward(600 * time.Millisecond)
	allowed, _, err = lim.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	lim := NewLimiter(client, 1, time.Minute, "")
	ctx := context.Background()

	allowed, _, err := lim.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = lim.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = lim.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiter_UsesPrefix(t *testing.T) {
	s, client := newTestRedis(t)
	lim := NewLimiter(client, 5, time.Minute, "")
	_, _, err := lim.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.True(t, s.Exists(defaultPrefix+"ip"))
}

func TestLimiter_InvalidWindow(t *testing.T) {
	_, client := newTestRedis(t)
	lim := NewLimiter(client, 1, 0, "")
	_, _, err := lim.Allow(context.Background(), "ip")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+s.Addr()+"/0")
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	_, err = NewClient(context.Background(), "::not a url")
	assert.Error(t, err)
}
