package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/authmatrix/internal/platform/cache"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/store"
)

// CacheNamespace prefixes the Redis keys holding cached snapshots.
const CacheNamespace = "authmatrix:matrix"

// Source is the store surface needed to build a snapshot.
type Source interface {
	RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	ListActions(ctx context.Context, filter store.ActionFilter) ([]rbac.Action, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
}

// Warmer schedules an asynchronous snapshot rebuild.
type Warmer interface {
	EnqueueMatrixWarmup(ctx context.Context) error
}

// LoadMetrics counts where snapshots came from.
type LoadMetrics interface {
	SnapshotLoaded(source string)
}

// LoaderConfig carries the optional collaborators of Loader.
type LoaderConfig struct {
	Cache   *cache.Versioned
	Warmer  Warmer
	Metrics LoadMetrics
	Logger  *slog.Logger
}

// Loader builds snapshots, deduplicating concurrent loads and caching them in Redis under a
// version that every confirmed write bumps.
type Loader struct {
	source  Source
	cache   *cache.Versioned
	warmer  Warmer
	metrics LoadMetrics
	logger  *slog.Logger
	group   singleflight.Group
	// generation separates in-flight loads from loads started after an invalidation.
	generation atomic.Int64
	// stale is set when a bump failed: the cached key may predate a committed write.
	stale atomic.Bool
	now   func() time.Time
}

// NewLoader constructs a Loader reading from source.
func NewLoader(source Source, cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source:  source,
		cache:   cfg.Cache,
		warmer:  cfg.Warmer,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the current snapshot. After a failed invalidation it retries the bump and reads
// the store directly until one succeeds.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	if l.stale.Load() {
		if _, err := l.cache.Bump(ctx); err != nil {
			l.logger.Warn("matrix cache bump retry", slog.Any("error", err))
			return l.loadFromStore(ctx)
		}
		l.stale.Store(false)
	}
	key, err := l.cache.BuildKey(ctx, "matrix", "snapshot")
	if err != nil {
		l.logger.Warn("matrix cache version unavailable", slog.Any("error", err))
		return l.loadFromStore(ctx)
	}
	flightKey := key + "#" + strconv.FormatInt(l.generation.Load(), 10)
	v, err := l.do(ctx, flightKey, func(ctx context.Context) (any, error) {
		var snap Snapshot
		hit, err := l.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (any, error) {
			return l.readStore(ctx)
		})
		if err != nil {
			return nil, err
		}
		if l.metrics != nil {
			if hit {
				l.metrics.SnapshotLoaded("cache")
			} else {
				l.metrics.SnapshotLoaded("store")
			}
		}
		return NewSnapshot(snap.Roles, snap.Actions, snap.Permissions, snap.LoadedAt), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate orphans every cached snapshot and schedules a rebuild.
func (l *Loader) Invalidate(ctx context.Context) error {
	l.generation.Add(1)
	if _, err := l.cache.Bump(ctx); err != nil {
		l.stale.Store(true)
		return fmt.Errorf("matrix: bump cache version: %w", err)
	}
	l.stale.Store(false)
	if l.warmer != nil {
		if err := l.warmer.EnqueueMatrixWarmup(ctx); err != nil {
			l.logger.Warn("matrix warmup enqueue", slog.Any("error", err))
		}
	}
	return nil
}

// Warm loads the snapshot so the next request is served from cache.
func (l *Loader) Warm(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

// ForgetLocal drops in-flight loads after another instance bumped the version.
func (l *Loader) ForgetLocal(int64) {
	l.generation.Add(1)
}

func (l *Loader) loadFromStore(ctx context.Context) (*Snapshot, error) {
	snap, err := l.readStore(ctx)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.SnapshotLoaded("store")
	}
	return snap, nil
}

func (l *Loader) readStore(ctx context.Context) (*Snapshot, error) {
	var (
		roles   []rbac.Role
		actions []rbac.Action
		perms   []rbac.Permission
	)
	err := l.source.RunInReadTx(ctx, func(ctx context.Context) error {
		var err error
		if roles, err = l.source.ListRoles(ctx); err != nil {
			return err
		}
		if actions, err = l.source.ListActions(ctx, store.ActionFilter{}); err != nil {
			return err
		}
		perms, err = l.source.ListPermissions(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: load snapshot: %w", err)
	}
	return NewSnapshot(roles, actions, perms, l.now()), nil
}

func (l *Loader) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := l.group.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}
