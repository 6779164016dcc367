package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-bearer-go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable wraps every failure to obtain a usable key set.
var ErrUnavailable = errors.New("jwks: key source unavailable")

const (
	defaultTTL          = 10 * time.Minute
	defaultFetchTimeout = 10 * time.Second
	// After a failed TTL refresh the stale set is served for at most this
	// long (capped at the TTL) before another fetch is attempted.
	defaultRetryBackoff = 30 * time.Second
)

// CacheOption configures a Cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	minRefresh   time.Duration
	retryBackoff time.Duration
	log          *slog.Logger
	now          func() time.Time
	reg          prometheus.Registerer
}

// WithTTL sets how long a fetched set is served before it is considered stale.
func WithTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithFetchTimeout bounds every fetch.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithMinRefreshInterval rate limits forced refreshes. Within the interval a
// forced refresh returns the current set without contacting the source. Zero
// disables the limit.
func WithMinRefreshInterval(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d >= 0 {
			c.minRefresh = d
		}
	}
}

// WithRetryBackoff sets how long a stale set is served after a failed TTL
// refresh.
func WithRetryBackoff(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d > 0 {
			c.retryBackoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *cacheConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRegisterer registers the fetch counter with reg.
func WithRegisterer(reg prometheus.Registerer) CacheOption {
	return func(c *cacheConfig) { c.reg = reg }
}

type snapshot struct {
	set       *KeySet
	fetchedAt time.Time
	// Zero means stale.
	expiresAt time.Time
}

// Cache holds the current key set of a Source.
type Cache struct {
	src Source
	cfg cacheConfig

	cur        atomic.Pointer[snapshot]
	lastForced atomic.Int64
	group      singleflight.Group

	fetches *prometheus.CounterVec
}

// NewCache returns an empty Cache. Nothing is fetched until the first call
// to KeySet.
func NewCache(src Source, opts ...CacheOption) *Cache {
	cfg := cacheConfig{
		ttl:          defaultTTL,
		fetchTimeout: defaultFetchTimeout,
		retryBackoff: defaultRetryBackoff,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.retryBackoff > cfg.ttl {
		cfg.retryBackoff = cfg.ttl
	}
	return &Cache{
		src: src,
		cfg: cfg,
		fetches: metrics.CounterVec(cfg.reg, "jwks", "fetches_total",
			"Key set fetches by outcome (ok, error, malformed).", "outcome"),
	}
}

// KeySet returns the current key set, fetching it when the cache is empty,
// stale, or forceRefresh is set. Concurrent callers share one fetch.
func (c *Cache) KeySet(ctx context.Context, forceRefresh bool) (*KeySet, error) {
	snap := c.cur.Load()
	if forceRefresh {
		var seen *KeySet
		if snap != nil {
			seen = snap.set
		}
		return c.Refresh(ctx, seen)
	}
	if snap != nil && c.cfg.now().Before(snap.expiresAt) {
		return snap.set, nil
	}
	return c.do(ctx, "ttl", func() (*KeySet, error) {
		cur := c.cur.Load()
		if cur != nil && c.cfg.now().Before(cur.expiresAt) {
			return cur.set, nil
		}
		set, err := c.fetch(ctx, false)
		if err != nil {
			if cur != nil {
				c.cfg.log.WarnContext(ctx, "jwks.stale.serve",
					slog.Time("fetched_at", cur.fetchedAt),
					slog.String("err", err.Error()))
				c.cur.Store(&snapshot{
					set:       cur.set,
					fetchedAt: cur.fetchedAt,
					expiresAt: c.cfg.now().Add(c.cfg.retryBackoff),
				})
				return cur.set, nil
			}
			return nil, err
		}
		return set, nil
	})
}

// Refresh forces a fetch unless the set has already been replaced since the
// caller observed seen (nil meaning the cache was empty), or a forced
// refresh happened within the minimum refresh interval. In both cases the
// current set is returned.
func (c *Cache) Refresh(ctx context.Context, seen *KeySet) (*KeySet, error) {
	return c.do(ctx, "force", func() (*KeySet, error) {
		cur := c.cur.Load()
		if cur != nil && cur.set != seen {
			return cur.set, nil
		}
		if cur != nil && c.cfg.minRefresh > 0 {
			last := time.Unix(0, c.lastForced.Load())
			if c.cfg.now().Sub(last) < c.cfg.minRefresh {
				c.cfg.log.DebugContext(ctx, "jwks.refresh.throttled")
				return cur.set, nil
			}
		}
		c.lastForced.Store(c.cfg.now().UnixNano())
		return c.fetch(ctx, true)
	})
}

// Invalidate marks the current set stale so the next KeySet call fetches.
// The set keeps being served if that fetch fails.
func (c *Cache) Invalidate() {
	for {
		cur := c.cur.Load()
		if cur == nil {
			return
		}
		next := &snapshot{set: cur.set, fetchedAt: cur.fetchedAt}
		if c.cur.CompareAndSwap(cur, next) {
			return
		}
	}
}

// FetchedAt reports when the current set was fetched.
func (c *Cache) FetchedAt() (time.Time, bool) {
	cur := c.cur.Load()
	if cur == nil {
		return time.Time{}, false
	}
	return cur.fetchedAt, true
}

func (c *Cache) do(ctx context.Context, key string, fn func() (*KeySet, error)) (*KeySet, error) {
	// DoChan re-panics on its own goroutine, out of reach of any caller's
	// recover, so a faulty source is contained here.
	ch := c.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				c.fetches.WithLabelValues("error").Inc()
				c.cfg.log.Error("jwks.fetch.panic", slog.Any("panic", p))
				v, err = nil, fmt.Errorf("%w: source panic: %v", ErrUnavailable, p)
			}
		}()
		return fn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// fetch runs detached from the caller's cancellation: other callers may be
// waiting on the same flight. The fetch timeout still bounds it.
func (c *Cache) fetch(ctx context.Context, fresh bool) (*KeySet, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.fetchTimeout)
	defer cancel()

	start := c.cfg.now()
	data, err := c.src.FetchKeySet(fctx, fresh)
	if err != nil {
		c.fetches.WithLabelValues("error").Inc()
		c.cfg.log.ErrorContext(ctx, "jwks.fetch.fail", slog.Bool("fresh", fresh), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	set, err := Parse(data)
	if err != nil {
		c.fetches.WithLabelValues("malformed").Inc()
		c.cfg.log.ErrorContext(ctx, "jwks.fetch.malformed", slog.Bool("fresh", fresh), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	now := c.cfg.now()
	c.cur.Store(&snapshot{set: set, fetchedAt: now, expiresAt: now.Add(c.cfg.ttl)})
	c.fetches.WithLabelValues("ok").Inc()
	c.cfg.log.InfoContext(ctx, "jwks.fetch.ok",
		slog.Bool("fresh", fresh),
		slog.Int("keys", set.Len()),
		slog.Any("kids", set.KIDs()),
		slog.Duration("took", now.Sub(start)))
	return set, nil
}
