package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"courseledger/internal/infrastructure/metrics"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/goroutine"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

// ErrMiss is returned by Get when the key is absent and no loader is configured.
var ErrMiss = errors.New("cache miss")

var errClosed = errors.New("cache closed")

// Loader fetches the value for key together with its time-to-live.
// A non-positive ttl falls back to the cache's DefaultTTL.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, time.Duration, error)

// Options configures an ExpiringCache.
type Options[K comparable, V any] struct {
	// Name labels log lines and metrics.
	Name   string
	Loader Loader[K, V]

	DefaultTTL time.Duration
	// RefreshThreshold is how long before hard expiry the background refresh
	// fires. Zero disables background refresh. Thresholds that do not fit
	// inside an entry's ttl are clamped to half of it.
	RefreshThreshold time.Duration
	// Retry drives refresh retries after loader failures. MaxAttempts is
	// ignored: retries continue until success or hard expiry.
	Retry retry.Policy
	// FirstRetryDelay, when set, replaces the first backoff delay after a
	// failed refresh. Later retries follow Retry.
	FirstRetryDelay time.Duration
	// UrgentWhenExpired skips the delay of the first retry scheduled after
	// the entry has passed hard expiry.
	UrgentWhenExpired bool
	LoadTimeout       time.Duration
	// KeyString names the singleflight slot for a key; defaults to fmt.Sprint.
	KeyString func(K) string

	Clock  clock.Clock
	Logger logger.Interface
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
	expiresAt time.Time // zero means no expiry
	refreshAt time.Time
	timer     clock.Timer
	schedule  *retry.Schedule
	failures  int
	urgent    bool
}

// flight tracks one running loader call; stale flights must not store.
type flight struct {
	stale bool
}

type subscriber[V any] struct {
	id uint64
	fn func(V)
}

// ExpiringCache is an owned, TTL-bound cache with request de-duplication,
// per-key subscriber fan-out and timer-driven background refresh.
type ExpiringCache[K comparable, V any] struct {
	opts   Options[K, V]
	clock  clock.Clock
	logger logger.Interface

	mu      sync.Mutex
	entries map[K]*entry[V]
	flights map[K][]*flight
	subs    map[K][]subscriber[V]
	nextSub uint64
	closed  bool

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache. Callers own it and must Close it.
func New[K comparable, V any](opts Options[K, V]) *ExpiringCache[K, V] {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.Name == "" {
		opts.Name = "cache"
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.KeyString == nil {
		opts.KeyString = func(k K) string { return fmt.Sprint(k) }
	}
	if opts.Retry.Initial <= 0 {
		opts.Retry = retry.Default()
	}
	opts.Retry.MaxAttempts = 0

	ctx, cancel := context.WithCancel(context.Background())
	return &ExpiringCache[K, V]{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With("cache", opts.Name),
		entries: make(map[K]*entry[V]),
		flights: make(map[K][]*flight),
		subs:    make(map[K][]subscriber[V]),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Peek returns the cached value without loading. Values past their refresh
// point are still served; values past hard expiry are a miss.
func (c *ExpiringCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peekLocked(key)
}

func (c *ExpiringCache[K, V]) peekLocked(key K) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		metrics.CacheLookup(c.opts.Name, "miss")
		return zero, false
	}
	now := c.clock.Now()
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		metrics.CacheLookup(c.opts.Name, "miss")
		return zero, false
	}
	if !e.refreshAt.IsZero() && !now.Before(e.refreshAt) {
		metrics.CacheLookup(c.opts.Name, "stale")
	} else {
		metrics.CacheLookup(c.opts.Name, "hit")
	}
	return e.value, true
}

// Get returns the cached value, loading it on a miss. Concurrent misses on
// the same key share one loader call and its result.
func (c *ExpiringCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}
	var zero V
	if c.opts.Loader == nil {
		return zero, ErrMiss
	}

	ch := c.group.DoChan(c.opts.KeyString(key), func() (any, error) {
		return c.load(key)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// load runs the loader under the cache's own lifetime and stores the result
// unless the key was invalidated while the call was in flight.
func (c *ExpiringCache[K, V]) load(key K) (V, error) {
	var zero V
	f := &flight{}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, errClosed
	}
	c.flights[key] = append(c.flights[key], f)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.LoadTimeout)
	defer cancel()
	v, ttl, err := c.opts.Loader(ctx, key)

	c.mu.Lock()
	c.removeFlightLocked(key, f)
	var (
		subs   []subscriber[V]
		stored bool
	)
	if err == nil && !f.stale {
		subs, stored = c.setLocked(key, v, ttl)
	}
	c.mu.Unlock()

	if err != nil {
		return zero, err
	}
	if stored {
		c.notify(key, subs, v)
	}
	return v, nil
}

func (c *ExpiringCache[K, V]) removeFlightLocked(key K, f *flight) {
	fs := c.flights[key]
	for i, other := range fs {
		if other == f {
			fs = append(fs[:i], fs[i+1:]...)
			break
		}
	}
	if len(fs) == 0 {
		delete(c.flights, key)
	} else {
		c.flights[key] = fs
	}
}

// Set stores value for ttl and synchronously notifies the key's subscribers.
func (c *ExpiringCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	subs, stored := c.setLocked(key, value, ttl)
	c.mu.Unlock()

	if stored {
		c.notify(key, subs, value)
	}
}

// setLocked stores value and returns the subscribers to notify once the
// lock is released.
func (c *ExpiringCache[K, V]) setLocked(key K, value V, ttl time.Duration) ([]subscriber[V], bool) {
	if c.closed {
		return nil, false
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	if old, ok := c.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	now := c.clock.Now()
	e := &entry[V]{value: value, fetchedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
		if threshold := c.effectiveThreshold(ttl); threshold > 0 && c.opts.Loader != nil {
			e.refreshAt = e.expiresAt.Add(-threshold)
			e.timer = c.scheduleLocked(key, e, e.refreshAt.Sub(now))
		}
	}
	c.entries[key] = e
	return append([]subscriber[V](nil), c.subs[key]...), true
}

func (c *ExpiringCache[K, V]) effectiveThreshold(ttl time.Duration) time.Duration {
	t := c.opts.RefreshThreshold
	if t <= 0 {
		return 0
	}
	if t >= ttl {
		t = ttl / 2
	}
	return t
}

func (c *ExpiringCache[K, V]) notify(key K, subs []subscriber[V], value V) {
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Errorw("cache subscriber panicked",
						"key", c.opts.KeyString(key),
						"subscriber", s.id,
						"panic", fmt.Sprintf("%v", r),
					)
				}
			}()
			s.fn(value)
		}()
	}
}

// scheduleLocked arms a refresh timer bound to entry e. A timer that fires
// after e was replaced or removed does nothing.
func (c *ExpiringCache[K, V]) scheduleLocked(key K, e *entry[V], delay time.Duration) clock.Timer {
	return c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		current, ok := c.entries[key]
		live := ok && current == e && !c.closed
		if live {
			c.wg.Add(1)
		}
		c.mu.Unlock()
		if !live {
			return
		}
		goroutine.SafeGo(c.logger, "cache-refresh", func() {
			defer c.wg.Done()
			c.refresh(key, e)
		})
	})
}

func (c *ExpiringCache[K, V]) refresh(key K, e *entry[V]) {
	_, err, _ := c.group.Do(c.opts.KeyString(key), func() (any, error) {
		return c.load(key)
	})
	if err == nil {
		return
	}

	metrics.CacheRefreshFailed(c.opts.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.entries[key]
	if !ok || current != e || c.closed {
		return
	}

	now := c.clock.Now()
	expired := !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
	if expired && len(c.subs[key]) == 0 {
		delete(c.entries, key)
		c.logger.Warnw("cache refresh failed past hard expiry, entry dropped",
			"key", c.opts.KeyString(key),
			"error", err,
		)
		return
	}

	if e.schedule == nil {
		e.schedule = c.opts.Retry.Schedule()
	}
	var delay time.Duration
	if e.failures == 0 && c.opts.FirstRetryDelay > 0 {
		delay = c.opts.FirstRetryDelay
	} else {
		delay, _ = e.schedule.Next()
	}
	e.failures++
	if expired && c.opts.UrgentWhenExpired && !e.urgent {
		e.urgent = true
		delay = 0
	}

	c.logger.Warnw("cache refresh failed, retrying",
		"key", c.opts.KeyString(key),
		"attempt", e.failures,
		"retry_in", delay,
		"expired", expired,
		"error", err,
	)
	e.timer = c.scheduleLocked(key, e, delay)
}

// Invalidate drops key. An in-flight load for key will not store its result.
// If the key has subscribers a fresh load is started so they receive the
// next value.
func (c *ExpiringCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	reload := c.invalidateLocked(key)
	c.mu.Unlock()

	if reload {
		c.reloadInBackground(key)
	}
}

// InvalidateFunc drops every key for which match returns true.
func (c *ExpiringCache[K, V]) InvalidateFunc(match func(K) bool) int {
	c.mu.Lock()
	var keys []K
	for k := range c.entries {
		if match(k) {
			keys = append(keys, k)
		}
	}
	for k := range c.flights {
		if match(k) {
			if _, seen := c.entries[k]; !seen {
				keys = append(keys, k)
			}
		}
	}
	var reload []K
	for _, k := range keys {
		if c.invalidateLocked(k) {
			reload = append(reload, k)
		}
	}
	c.mu.Unlock()

	for _, k := range reload {
		c.reloadInBackground(k)
	}
	return len(keys)
}

func (c *ExpiringCache[K, V]) invalidateLocked(key K) bool {
	if c.closed {
		return false
	}
	if e, ok := c.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
	}
	for _, f := range c.flights[key] {
		f.stale = true
	}
	c.group.Forget(c.opts.KeyString(key))
	return len(c.subs[key]) > 0 && c.opts.Loader != nil
}

func (c *ExpiringCache[K, V]) reloadInBackground(key K) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	goroutine.SafeGo(c.logger, "cache-reload", func() {
		defer c.wg.Done()
		if _, err, _ := c.group.Do(c.opts.KeyString(key), func() (any, error) {
			return c.load(key)
		}); err != nil {
			c.logger.Warnw("cache reload after invalidation failed",
				"key", c.opts.KeyString(key),
				"error", err,
			)
		}
	})
}

// Subscribe registers fn for every value stored under key. The returned
// function removes the subscription and may be called more than once.
func (c *ExpiringCache[K, V]) Subscribe(key K, fn func(V)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[key] = append(c.subs[key], subscriber[V]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subs[key]
			for i, s := range subs {
				if s.id == id {
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(c.subs, key)
			} else {
				c.subs[key] = subs
			}
		})
	}
}

// ExpiresAt reports when the entry for key hard-expires.
func (c *ExpiringCache[K, V]) ExpiresAt(key K) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Len returns the number of stored entries, including expired ones awaiting refresh.
func (c *ExpiringCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops every refresh timer, cancels in-flight loads and waits for
// background refreshes to return. The cache is unusable afterwards.
func (c *ExpiringCache[K, V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.entries = make(map[K]*entry[V])
	c.subs = make(map[K][]subscriber[V])
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
