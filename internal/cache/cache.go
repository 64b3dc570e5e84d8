// Package cache holds fetched collection snapshots keyed by name. A snapshot
// is served until it is older than the staleness window or is invalidated;
// it is never patched in place.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime is how long a snapshot is served without re-fetching.
const DefaultStaleTime = 5 * time.Minute

// Event describes one invalidation. Remote is set when it was received from
// another process over the bus rather than caused locally.
type Event struct {
	Keys   []Key `json:"keys"`
	Remote bool  `json:"-"`
}

// Listener is called after keys are invalidated, outside the cache lock.
type Listener func(Event)

// FetchFunc loads the current value for a key.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is a goroutine-safe keyed snapshot store.
type Cache struct {
	mu        sync.Mutex
	entries   map[Key]entry
	gens      map[Key]uint64
	listeners []Listener

	staleTime time.Duration
	now       func() time.Time
	flight    singleflight.Group
	log       *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime overrides DefaultStaleTime. Non-positive values are ignored.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleTime = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[Key]entry),
		gens:      make(map[Key]uint64),
		staleTime: DefaultStaleTime,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("cache")
	return c
}

// StaleTime returns the configured staleness window.
func (c *Cache) StaleTime() time.Duration { return c.staleTime }

// Read returns the snapshot for key when it is fresh, otherwise calls fetch
// and stores its result. Concurrent misses on the same key share one fetch.
// Failed fetches are not stored.
func (c *Cache) Read(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.staleTime {
		c.mu.Unlock()
		c.log.Debug("hit", zap.String("key", string(key)))
		return e.value, nil
	}
	gen, tracked := c.gens[key]
	if !tracked {
		c.gens[key] = 0
	}
	c.mu.Unlock()

	// The generation is part of the flight key so a read issued after an
	// invalidation never joins a fetch that started before it.
	flightKey := fmt.Sprintf("%s#%d", key, gen)
	v, err, shared := c.flight.Do(flightKey, func() (any, error) {
		c.log.Debug("miss", zap.String("key", string(key)))
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = entry{value: value, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		c.log.Warn("fetch failed", zap.String("key", string(key)), zap.Bool("shared", shared), zap.Error(err))
		return nil, err
	}
	return v, nil
}

// Invalidate discards the snapshots for keys so the next Read re-fetches.
func (c *Cache) Invalidate(keys ...Key) {
	c.invalidate(Event{Keys: keys})
}

// InvalidatePrefix discards every snapshot whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	var keys []Key
	for k := range c.gens {
		if strings.HasPrefix(string(k), prefix) {
			keys = append(keys, k)
		}
	}
	for k := range c.entries {
		if _, seen := c.gens[k]; !seen && strings.HasPrefix(string(k), prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	if len(keys) > 0 {
		c.invalidate(Event{Keys: keys})
	}
}

// Reset discards every snapshot. Fetches already in flight are not stored.
func (c *Cache) Reset() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.gens)+len(c.entries))
	for k := range c.gens {
		keys = append(keys, k)
	}
	for k := range c.entries {
		if _, seen := c.gens[k]; !seen {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	c.invalidate(Event{Keys: keys})
}

// ApplyRemote invalidates keys reported by another process. Listeners see
// the event with Remote set.
func (c *Cache) ApplyRemote(keys []Key) {
	c.invalidate(Event{Keys: keys, Remote: true})
}

func (c *Cache) invalidate(ev Event) {
	if len(ev.Keys) == 0 {
		return
	}
	c.mu.Lock()
	for _, k := range ev.Keys {
		delete(c.entries, k)
		c.gens[k]++
	}
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	c.log.Debug("invalidated", zap.Any("keys", ev.Keys), zap.Bool("remote", ev.Remote))
	for _, fn := range listeners {
		fn(ev)
	}
}

// OnInvalidate registers fn to be called after every invalidation.
func (c *Cache) OnInvalidate(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Peek reports the stored snapshot for key without fetching, regardless of
// its age.
func (c *Cache) Peek(key Key) (value any, fetchedAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, e.fetchedAt, ok
}

// Get is a typed Read.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T", key, v)
	}
	return t, nil
}
