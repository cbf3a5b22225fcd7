package credentials

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// entry pairs a cached credential with the instant it must be dropped.
type entry struct {
	credential *Credential
	expiresAt  time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]entry
}

// Cache is a TTL cache for resolved credentials. Keys hash to one of a
// fixed set of shards so concurrent orders for different CSPs never
// contend on a single lock.
type Cache struct {
	shards [shardCount]*shard

	ttl           time.Duration
	sweepInterval time.Duration
	clock         func() time.Time

	onEviction func(Key)
	onSize     func(delta int)

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the cache's time source. Used by tests.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) { c.clock = clock }
}

// WithEvictionHook registers a callback fired for every entry removed
// by the sweeper or by explicit invalidation.
func WithEvictionHook(fn func(Key)) CacheOption {
	return func(c *Cache) { c.onEviction = fn }
}

// WithSizeHook registers a callback fired whenever the number of live
// entries changes.
func WithSizeHook(fn func(delta int)) CacheOption {
	return func(c *Cache) { c.onSize = fn }
}

// WithSweepInterval overrides how often the background sweeper runs.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *Cache) { c.sweepInterval = d }
}

// NewCache creates a credential cache where entries live for ttl after
// insertion.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:           ttl,
		sweepInterval: time.Minute,
		clock:         time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(key Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached credential for key. Expired entries are
// treated as absent even if the sweeper has not removed them yet.
func (c *Cache) Get(key Key) (*Credential, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !c.clock().Before(e.expiresAt) {
		return nil, false
	}
	return e.credential, true
}

// Put stores a credential under its key. A credential with its own
// earlier expiry caps the cache TTL.
func (c *Cache) Put(cred *Credential) {
	key := cred.Key()
	expiresAt := c.clock().Add(c.ttl)
	if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.Before(expiresAt) {
		expiresAt = cred.ExpiresAt
	}

	s := c.shardFor(key)
	s.mu.Lock()
	_, existed := s.entries[key]
	s.entries[key] = entry{credential: cred, expiresAt: expiresAt}
	s.mu.Unlock()

	if !existed && c.onSize != nil {
		c.onSize(1)
	}
}

// Invalidate removes the entry for key, reporting whether it existed.
func (c *Cache) Invalidate(key Key) bool {
	s := c.shardFor(key)

	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		if c.onEviction != nil {
			c.onEviction(key)
		}
		if c.onSize != nil {
			c.onSize(-1)
		}
	}
	return existed
}

// Len returns the number of live entries across all shards, including
// expired entries the sweeper has not collected yet.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes expired entries. The expiry is re-checked under the
// shard write lock so a Put racing the sweep never loses a fresh entry.
func (c *Cache) Sweep() int {
	now := c.clock()
	removed := 0

	for _, s := range c.shards {
		var stale []Key

		s.mu.RLock()
		for key, e := range s.entries {
			if !now.Before(e.expiresAt) {
				stale = append(stale, key)
			}
		}
		s.mu.RUnlock()

		if len(stale) == 0 {
			continue
		}

		s.mu.Lock()
		for _, key := range stale {
			e, ok := s.entries[key]
			if !ok || now.Before(e.expiresAt) {
				continue
			}
			delete(s.entries, key)
			removed++
			if c.onEviction != nil {
				c.onEviction(key)
			}
			if c.onSize != nil {
				c.onSize(-1)
			}
		}
		s.mu.Unlock()
	}

	return removed
}

// Start runs the background sweeper until ctx is cancelled or Stop is
// called.
func (c *Cache) Start(ctx context.Context) {
	c.started = true
	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop halts the background sweeper and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}
