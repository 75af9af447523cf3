// Package resultcache holds computed dashboard results with a wall clock TTL.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const (
	DefaultMaxPersisted = 256

	snapshotName = "results"
	metricName   = "result"
)

type entry struct {
	Data    json.RawMessage `json:"data"`
	Stored  int64           `json:"stored"`  // unix ms
	Expires int64           `json:"expires"` // unix ms
}

// Cache maps string keys to JSON encoded values. Use Get and Set for typed
// access.
type Cache struct {
	mu           sync.RWMutex
	entries      map[string]entry
	store        snapshot.Store
	maxPersisted int
	now          func() time.Time
	log          logger.Logger
}

// New builds a cache and restores unexpired entries from store.
func New(ctx context.Context, store snapshot.Store, opts ...Option) *Cache {
	c := &Cache{
		entries:      make(map[string]entry),
		store:        store,
		maxPersisted: DefaultMaxPersisted,
		now:          time.Now,
		log:          logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = snapshot.Nop{}
	}
	c.load(ctx)
	return c
}

func (c *Cache) load(ctx context.Context) {
	data, err := c.store.Load(ctx, snapshotName)
	if errors.Is(err, snapshot.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Warn(ctx, "result cache snapshot unavailable", logger.Error(err))
		return
	}
	var stored map[string]entry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.log.Warn(ctx, "result cache snapshot corrupt, starting empty", logger.Error(err))
		return
	}
	now := c.now().UnixMilli()
	for k, e := range stored {
		if e.Expires > now {
			c.entries[k] = e
		}
	}
	metrics.UpdateCacheEntries(metricName, len(c.entries))
}

func (c *Cache) get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.Expires <= c.now().UnixMilli() {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.Expires == e.Expires {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.Data, true
}

func (c *Cache) set(key string, data json.RawMessage, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = entry{Data: data, Stored: now.UnixMilli(), Expires: now.Add(ttl).UnixMilli()}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheEntries(metricName, n)
}

// Delete drops key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts entries, expired ones included until they are read or flushed.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get decodes the value under key. Expired and undecodable entries are
// misses.
func Get[T any](c *Cache, key string) (T, bool) {
	var v T
	data, ok := c.get(key)
	if !ok {
		metrics.RecordCacheMiss(metricName)
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		c.Delete(key)
		metrics.RecordCacheMiss(metricName)
		return v, false
	}
	metrics.RecordCacheHit(metricName)
	return v, true
}

// Set stores value under key for ttl.
func Set[T any](c *Cache, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("resultcache: encode %s: %w", key, err)
	}
	c.set(key, data, ttl)
	return nil
}

// Flush drops expired entries and writes the newest MaxPersisted of the rest
// to the snapshot store.
func (c *Cache) Flush(ctx context.Context) error {
	now := c.now().UnixMilli()

	c.mu.Lock()
	type kv struct {
		key string
		e   entry
	}
	live := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		if e.Expires <= now {
			delete(c.entries, k)
			continue
		}
		live = append(live, kv{k, e})
	}
	c.mu.Unlock()

	sort.Slice(live, func(i, j int) bool {
		if live[i].e.Stored != live[j].e.Stored {
			return live[i].e.Stored > live[j].e.Stored
		}
		return live[i].key < live[j].key
	})
	if len(live) > c.maxPersisted {
		live = live[:c.maxPersisted]
	}

	out := make(map[string]entry, len(live))
	for _, p := range live {
		out[p.key] = p.e
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("resultcache: encode snapshot: %w", err)
	}
	if err := c.store.Save(ctx, snapshotName, data); err != nil {
		return fmt.Errorf("resultcache: %w", err)
	}
	return nil
}
