package matrix_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/matrix"
	"github.com/odyssey-erp/authmatrix/internal/platform/cache"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/store/memstore"
)

type countingSource struct {
	*memstore.Store
	mu    sync.Mutex
	reads int
	err   error
}

func (c *countingSource) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	c.mu.Lock()
	c.reads++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Store.ListRoles(ctx)
}

func (c *countingSource) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type loadCounter struct {
	mu      sync.Mutex
	sources []string
}

func (l *loadCounter) SnapshotLoaded(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, source)
}

type warmerSpy struct {
	calls int
	err   error
}

func (w *warmerSpy) EnqueueMatrixWarmup(context.Context) error {
	w.calls++
	return w.err
}

func newRedisCache(t *testing.T) *cache.Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, "authmatrix:test", time.Minute)
}

func TestLoaderServesFromCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Store: memstore.New()}
	metrics := &loadCounter{}
	warmer := &warmerSpy{}
	loader := matrix.NewLoader(src, matrix.LoaderConfig{Cache: newRedisCache(t), Metrics: metrics, Warmer: warmer})

	first, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, first.Roles, 3)
	assert.Empty(t, first.Actions)

	second, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Roles, second.Roles)
	assert.Equal(t, 1, src.Reads())

	_, err = src.InsertAction(ctx, rbac.Action{Name: "Deploy Code", Category: "Engineering"})
	require.NoError(t, err)
	stale, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale.Actions, "writes outside the mutator are invisible until invalidation")

	require.NoError(t, loader.Invalidate(ctx))
	assert.Equal(t, 1, warmer.calls)

	fresh, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.Actions, 1)
	assert.Equal(t, "Deploy Code", fresh.Actions[0].Name)
	assert.Equal(t, 2, src.Reads())

	assert.Equal(t, []string{"store", "cache", "cache", "store"}, metrics.sources)
}

func TestLoaderResolvesAfterRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	act, err := st.InsertAction(ctx, rbac.Action{Name: "Approve Expense Reports", Category: "Finance"})
	require.NoError(t, err)
	limit := 5000.0
	_, err = st.InsertPermission(ctx, rbac.Permission{RoleID: 1, ActionID: act.ID, Status: rbac.StatusConditional, LimitValue: &limit})
	require.NoError(t, err)

	loader := matrix.NewLoader(st, matrix.LoaderConfig{Cache: newRedisCache(t)})
	_, err = loader.Load(ctx)
	require.NoError(t, err)

	cached, err := loader.Load(ctx)
	require.NoError(t, err)
	state := cached.Resolve(1, act.ID)
	assert.True(t, state.Explicit)
	assert.Equal(t, rbac.StatusConditional, state.Status)
	require.NotNil(t, state.LimitValue)
	assert.Equal(t, 5000.0, *state.LimitValue)
	assert.Equal(t, rbac.StatusDenied, cached.Resolve(2, act.ID).Status)
}

func TestLoaderWithoutCacheReadsStoreEveryTime(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Store: memstore.New()}
	loader := matrix.NewLoader(src, matrix.LoaderConfig{})

	for range 3 {
		_, err := loader.Load(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.Reads())
	require.NoError(t, loader.Invalidate(ctx))
}

func TestLoaderPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := &countingSource{Store: memstore.New(), err: boom}
	loader := matrix.NewLoader(src, matrix.LoaderConfig{Cache: newRedisCache(t)})

	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestLoaderWarmupFailureDoesNotFailInvalidate(t *testing.T) {
	warmer := &warmerSpy{err: errors.New("queue down")}
	loader := matrix.NewLoader(memstore.New(), matrix.LoaderConfig{Cache: newRedisCache(t), Warmer: warmer})
	require.NoError(t, loader.Invalidate(context.Background()))
	assert.Equal(t, 1, warmer.calls)
}

func TestLoaderWarm(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Store: memstore.New()}
	metrics := &loadCounter{}
	loader := matrix.NewLoader(src, matrix.LoaderConfig{Cache: newRedisCache(t), Metrics: metrics})

	require.NoError(t, loader.Warm(ctx))
	_, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "cache"}, metrics.sources)
}

func TestLoaderBypassesCacheAfterFailedBump(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	src := &countingSource{Store: memstore.New()}
	metrics := &loadCounter{}
	loader := matrix.NewLoader(src, matrix.LoaderConfig{
		Cache:   cache.NewVersioned(client, "authmatrix:test", time.Minute),
		Metrics: metrics,
	})

	_, err := loader.Load(ctx)
	require.NoError(t, err)
	_, err = src.InsertAction(ctx, rbac.Action{Name: "Deploy Code", Category: "Engineering"})
	require.NoError(t, err)

	mr.SetError("ERR redis unavailable")
	require.Error(t, loader.Invalidate(ctx))
	mr.SetError("")

	fresh, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.Actions, 1, "the old cache key must not be served")

	_, err = loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "store", "cache"}, metrics.sources)
	assert.Equal(t, 2, src.Reads())
}
