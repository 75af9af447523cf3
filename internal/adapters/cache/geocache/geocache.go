// Package geocache remembers reverse geocoding results by rounded coordinate.
//
// Entries live in an in-process LRU. The most recent PersistLimit entries are
// also written to a snapshot store on Flush and read back on construction, so
// a restart does not hit the geocoding providers for places seen recently.
package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const (
	DefaultCapacity     = 10000
	DefaultPersistLimit = 100

	snapshotName = "geocache"
	metricName   = "geo"
)

// Cache is safe for concurrent use.
type Cache struct {
	mu           sync.Mutex
	entries      *lru.Cache[string, model.GeoCacheEntry]
	store        snapshot.Store
	capacity     int
	persistLimit int
	dirty        bool
	log          logger.Logger
}

// New builds a cache and loads the persisted snapshot. A missing or corrupt
// snapshot is logged and ignored.
func New(ctx context.Context, store snapshot.Store, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:        store,
		capacity:     DefaultCapacity,
		persistLimit: DefaultPersistLimit,
		log:          logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = snapshot.Nop{}
	}

	entries, err := lru.New[string, model.GeoCacheEntry](c.capacity)
	if err != nil {
		return nil, fmt.Errorf("geocache: %w", err)
	}
	c.entries = entries
	c.load(ctx)
	return c, nil
}

func (c *Cache) load(ctx context.Context) {
	data, err := c.store.Load(ctx, snapshotName)
	if errors.Is(err, snapshot.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Warn(ctx, "geo cache snapshot unavailable", logger.Error(err))
		return
	}

	var list []model.GeoCacheEntry
	if err := json.Unmarshal(data, &list); err != nil {
		c.log.Warn(ctx, "geo cache snapshot corrupt, starting empty", logger.Error(err))
		return
	}
	for _, e := range list {
		if e.Key == "" {
			continue
		}
		c.entries.Add(e.Key, e)
	}
	metrics.UpdateCacheEntries(metricName, c.entries.Len())
	c.log.Info(ctx, "geo cache restored", logger.Int("entries", len(list)))
}

// Get returns the cached place for the coordinate's rounded key.
func (c *Cache) Get(lat, lng float64) (model.GeoCacheEntry, bool) {
	e, ok := c.entries.Get(geo.Key(lat, lng))
	if ok {
		metrics.RecordCacheHit(metricName)
	} else {
		metrics.RecordCacheMiss(metricName)
	}
	return e, ok
}

// Put stores a place under the coordinate's rounded key.
func (c *Cache) Put(lat, lng float64, place, area string) {
	key := geo.Key(lat, lng)
	c.entries.Add(key, model.GeoCacheEntry{Key: key, Place: place, Area: area})

	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
	metrics.UpdateCacheEntries(metricName, c.entries.Len())
}

// Len reports the number of entries in memory.
func (c *Cache) Len() int { return c.entries.Len() }

// Flush writes the most recent entries to the snapshot store if anything
// changed since the last flush.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	keys := c.entries.Keys() // oldest first
	if len(keys) > c.persistLimit {
		keys = keys[len(keys)-c.persistLimit:]
	}
	list := make([]model.GeoCacheEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.entries.Peek(k); ok {
			list = append(list, e)
		}
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("geocache: encode snapshot: %w", err)
	}
	if err := c.store.Save(ctx, snapshotName, data); err != nil {
		return fmt.Errorf("geocache: %w", err)
	}
	c.dirty = false
	return nil
}
