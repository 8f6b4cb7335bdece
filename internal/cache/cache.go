// Package cache coordinates the client-side read cache: keys reads by
// (method, target, params-hash), stores wire values with their table
// dependencies, applies TTL lazily, evicts by LRU, and invalidates at
// table granularity when mutations complete.
//
// Concurrency note: cache reads are not serialized against in-flight
// mutations to the same table. A read dispatched before an invalidation
// may still populate the cache with its result afterwards; the chosen
// policy is last-writer-wins. Concurrent identical reads are collapsed
// through singleflight so only one dispatch reaches the server.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/debug"
	"github.com/steveyegge/surgo/internal/storage"
	"github.com/steveyegge/surgo/internal/storage/memory"
)

// Key re-exports the storage key for callers.
type Key = storage.Key

// MakeKey builds a cache key. The params hash is a sha256 over the
// canonical text encoding of the parameter list (object keys sorted),
// truncated for compactness the way short content hashes usually are.
func MakeKey(method, target string, params []codec.Value) Key {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	for _, p := range params {
		b, err := codec.SerializeText(p)
		if err != nil {
			// Non-finite floats have no text form; fall back to the
			// binary encoding, which is also canonical (sorted keys).
			b, err = codec.SerializeBinary(p)
			if err != nil {
				b = []byte(p.Kind().String())
			}
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return Key{Method: method, Target: target, ParamsHash: hex.EncodeToString(h.Sum(nil))[:16]}
}

// Policy controls caching behavior.
type Policy struct {
	// DefaultTTL applies to entries stored without an explicit TTL.
	// Zero means entries do not expire by age.
	DefaultTTL time.Duration
	// MaxEntries bounds the store; zero means unbounded.
	MaxEntries int
	// InvalidateOnLiveQuery invalidates a table when a live
	// notification for it arrives.
	InvalidateOnLiveQuery bool
}

// DefaultPolicy enables live-query invalidation and nothing else.
func DefaultPolicy() Policy {
	return Policy{InvalidateOnLiveQuery: true}
}

// Stats summarizes cache effectiveness: counts plus extremes.
type Stats struct {
	Entries     int
	Hits        int64
	Misses      int64
	Evictions   int64
	OldestEntry time.Duration // age of the least recently created entry
	NewestEntry time.Duration
}

// Cache is the coordinator over a pluggable store.
type Cache struct {
	store  storage.Store
	policy Policy
	group  singleflight.Group

	mu        sync.Mutex // guards the counters
	hits      int64
	misses    int64
	evictions int64
}

// New builds a coordinator. A nil store selects the in-memory backend.
func New(store storage.Store, policy Policy) *Cache {
	if store == nil {
		store = memory.New()
	}
	return &Cache{store: store, policy: policy}
}

// Store exposes the underlying backend, for Close and for tests.
func (c *Cache) Store() storage.Store { return c.store }

// Policy returns the active policy.
func (c *Cache) Policy() Policy { return c.policy }

// Get returns the cached value for key, removing it on TTL expiry.
// Access metadata is bumped on every hit.
func (c *Cache) Get(ctx context.Context, key Key) (codec.Value, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		debug.Logf("cache: read failed for %s: %v", key.String(), err)
		return codec.Value{}, false
	}
	if !ok {
		c.bumpMiss()
		return codec.Value{}, false
	}
	now := time.Now()
	if e.Expired(now) {
		_ = c.store.Remove(ctx, key)
		c.bumpMiss()
		return codec.Value{}, false
	}
	if err := c.store.Touch(ctx, key, now); err != nil {
		debug.Logf("cache: touch failed for %s: %v", key.String(), err)
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.Value, true
}

// Set stores value for key with its dependent tables. ttl of zero
// selects the policy default. Eviction runs before insertion when the
// store is at capacity.
func (c *Cache) Set(ctx context.Context, key Key, value codec.Value, tables []string, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.policy.DefaultTTL
	}
	if err := c.evictIfNeeded(ctx); err != nil {
		debug.Logf("cache: eviction failed: %v", err)
	}
	now := time.Now()
	e := &storage.Entry{
		Value:          value,
		Tables:         tables,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		TTL:            ttl,
	}
	if err := c.store.Set(ctx, key, e); err != nil {
		debug.Logf("cache: write failed for %s: %v", key.String(), err)
	}
}

// Do runs a read-through: a cache hit returns immediately; otherwise
// fetch executes (collapsed across concurrent identical keys) and its
// result is stored with the given tables and ttl.
func (c *Cache) Do(ctx context.Context, key Key, tables []string, ttl time.Duration,
	fetch func(ctx context.Context) (codec.Value, error)) (codec.Value, error) {

	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return codec.Value{}, err
		}
		c.Set(ctx, key, v, tables, ttl)
		return v, nil
	})
	if err != nil {
		return codec.Value{}, err
	}
	return res.(codec.Value), nil
}

// Invalidate removes every entry depending on table.
func (c *Cache) Invalidate(ctx context.Context, table string) {
	n, err := c.store.RemoveForTable(ctx, table)
	if err != nil {
		debug.Logf("cache: invalidate %q failed: %v", table, err)
		return
	}
	if n > 0 {
		debug.Logf("cache: invalidated %d entries for table %q", n, table)
	}
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll(ctx context.Context) {
	if err := c.store.RemoveAll(ctx); err != nil {
		debug.Logf("cache: clear failed: %v", err)
	}
}

// Stats returns counters and entry-age extremes.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	s := Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
	c.mu.Unlock()

	entries, err := c.store.AllEntries(ctx)
	if err != nil {
		debug.Logf("cache: stats scan failed: %v", err)
		return s
	}
	s.Entries = len(entries)
	now := time.Now()
	for i, ke := range entries {
		age := now.Sub(ke.Entry.CreatedAt)
		if i == 0 || age > s.OldestEntry {
			s.OldestEntry = age
		}
		if i == 0 || age < s.NewestEntry {
			s.NewestEntry = age
		}
	}
	return s
}

// evictIfNeeded purges expired entries and then the coldest tenth of
// the store when the entry count has reached MaxEntries.
func (c *Cache) evictIfNeeded(ctx context.Context) error {
	if c.policy.MaxEntries <= 0 {
		return nil
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	if n < c.policy.MaxEntries {
		return nil
	}
	entries, err := c.store.AllEntries(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	removed := 0
	for _, ke := range entries {
		if ke.Entry.Expired(now) {
			if err := c.store.RemoveByKeyString(ctx, ke.Key); err != nil {
				return err
			}
			removed++
		}
	}
	// Then evict the least-recently-used live entries: a tenth of the
	// capacity, at least one.
	want := c.policy.MaxEntries / 10
	if want < 1 {
		want = 1
	}
	evicted := 0
	for _, ke := range entries {
		if evicted >= want {
			break
		}
		if ke.Entry.Expired(now) {
			continue
		}
		if err := c.store.RemoveByKeyString(ctx, ke.Key); err != nil {
			return err
		}
		evicted++
	}
	c.mu.Lock()
	c.evictions += int64(removed + evicted)
	c.mu.Unlock()
	return nil
}

func (c *Cache) bumpMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
