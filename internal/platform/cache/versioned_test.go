package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N int `json:"n"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestVersionedFetchAndBump(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	c := NewVersioned(client, "matrix", time.Minute)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{N: calls}, nil
	}

	key, err := c.BuildKey(ctx, "matrix", "snapshot")
	require.NoError(t, err)
	assert.Equal(t, "matrix:snapshot:1", key)

	var got payload
	hit, err := c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, got.N)

	hit, err = c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	ver, err := c.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)

	key, err = c.BuildKey(ctx, "matrix", "snapshot")
	require.NoError(t, err)
	assert.Equal(t, "matrix:snapshot:2", key)
	hit, err = c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, got.N)
}

func TestVersionedDisabledAlwaysLoads(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(nil, "matrix", time.Minute)
	assert.False(t, c.Enabled())

	key, err := c.BuildKey(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", key)

	calls := 0
	var got payload
	for i := 0; i < 2; i++ {
		_, err := c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) {
			calls++
			return payload{N: 7}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	_, err = c.Bump(ctx)
	assert.NoError(t, err)
}

func TestVersionedLoaderErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewVersioned(client, "matrix", time.Minute)
	boom := errors.New("store down")

	var got payload
	_, err := c.FetchJSON(ctx, "k:1", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k:1"))
}

func TestListenForInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newRedis(t)
	c := NewVersioned(client, "matrix", time.Minute)

	seen := make(chan int64, 1)
	require.NoError(t, c.ListenForInvalidation(ctx, func(v int64) { seen <- v }))

	_, err := c.Bump(ctx)
	require.NoError(t, err)
	select {
	case v := <-seen:
		assert.Equal(t, int64(1), v)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not delivered")
	}
}
