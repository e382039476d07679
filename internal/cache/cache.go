// Package cache provides a bounded-staleness read-through cache over whole-table
// snapshots of the backing store.
//
// A snapshot is served from memory while it is younger than the TTL; older or
// invalidated snapshots are refetched. Concurrent misses for the same table share
// one fetch, which runs detached from any single caller's cancellation so one
// abandoned request can't fail the others waiting on it. Invalidate bumps a per-table generation so a fetch that started
// before the invalidation can't repopulate the cache with pre-write data.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/metrics"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
)

// DefaultTTL is used when a non-positive TTL is configured.
const DefaultTTL = 60 * time.Second

// Fetcher loads a whole table from the backing store.
type Fetcher interface {
	ListRows(ctx context.Context, table string) (sheets.Table, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	group   singleflight.Group
}

type entry struct {
	snapshot  sheets.Table
	fetchedAt time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout bounds each shared fetch. Zero leaves the bound to the fetcher.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// New wires a cache in front of fetcher.
func New(fetcher Fetcher, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns a snapshot of table no older than the TTL. Fetch failures are
// returned as ErrTransientIO, never as an empty table.
func (c *Cache) Read(ctx context.Context, table string) (sheets.Table, error) {
	c.mu.Lock()
	if e, ok := c.entries[table]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		metrics.CacheRequests.WithLabelValues(table, metrics.CacheHit).Inc()
		return e.snapshot.Clone(), nil
	}
	gen := c.gens[table]
	c.mu.Unlock()

	metrics.CacheRequests.WithLabelValues(table, metrics.CacheMiss).Inc()

	ch := c.group.DoChan(table+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
			defer cancel()
		}
		snapshot, err := c.fetcher.ListRows(fetchCtx, table)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[table] == gen {
			c.entries[table] = entry{snapshot: snapshot, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return snapshot, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return sheets.Table{}, models.TransientIO("fetch "+table, ctx.Err())
	case res = <-ch:
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		metrics.CacheFetchErrors.WithLabelValues(table).Inc()
		c.logger.Warn("table fetch failed", zap.String("table", table), zap.Error(err))
		return sheets.Table{}, models.TransientIO("fetch "+table, err)
	}

	c.logger.Debug("table fetched", zap.String("table", table), zap.Bool("shared", shared))
	return v.(sheets.Table).Clone(), nil
}

// Invalidate discards the snapshot of table so the next Read fetches.
// Call it once the write returned, failed or not: an error may hide a commit.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
	c.gens[table]++
}
