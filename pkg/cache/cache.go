// Package cache holds the in-memory de-duplication sets consulted by the
// persistence pipeline. Entries expire on their own; the periodic sweep only
// has to retire the hour-scoped observed-spawn records.
package cache

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"wildscan/pkg/model"
)

const maxEntries = 100_000

// SightingCache remembers recently persisted sightings so the pipeline can
// skip inserts that would only trip the DB uniqueness index. It also records
// which spawn ids have produced a sighting this hour, which the scheduler
// uses to suppress redundant re-visits.
type SightingCache struct {
	store *otter.Cache[string, int64]

	mu     sync.Mutex
	spawns map[string]int64 // spawn id -> hour baseline of last observation
}

// NewSightingCache creates an empty cache.
func NewSightingCache() (*SightingCache, error) {
	store, err := otter.New(&otter.Options[string, int64]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, int64](time.Hour),
	})
	if err != nil {
		return nil, err
	}
	return &SightingCache{
		store:  store,
		spawns: make(map[string]int64),
	}, nil
}

// Add records a sighting; the entry lives until the sighting expires.
func (c *SightingCache) Add(s model.Sighting) {
	key := s.Key()
	c.store.Set(key, s.ExpireTS)
	if ttl := time.Until(time.Unix(s.ExpireTS, 0)); ttl > 0 {
		c.store.SetExpiresAfter(key, ttl)
	}

	if s.SpawnID != "" {
		hour := (time.Now().Unix() / 3600) * 3600
		c.mu.Lock()
		c.spawns[s.SpawnID] = hour
		c.mu.Unlock()
	}
}

// Contains reports whether an equivalent sighting is already cached. A miss
// never causes a missed insert: the DB uniqueness index is the backstop.
func (c *SightingCache) Contains(s model.Sighting) bool {
	_, ok := c.store.GetIfPresent(s.Key())
	return ok
}

// SpawnObserved reports whether the spawn produced a sighting during the
// hour starting at hourBaseline (unix seconds).
func (c *SightingCache) SpawnObserved(spawnID string, hourBaseline int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawns[spawnID] == hourBaseline
}

// CleanExpired retires observed-spawn records from previous hours. Cache
// entries themselves expire via their per-entry TTL.
func (c *SightingCache) CleanExpired() {
	hour := (time.Now().Unix() / 3600) * 3600
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, h := range c.spawns {
		if h != hour {
			delete(c.spawns, id)
		}
	}
}

// LongSpawnCache tracks extended-lifetime spawns by the same composite key.
type LongSpawnCache struct {
	store *otter.Cache[string, int64]
}

// NewLongSpawnCache creates an empty cache.
func NewLongSpawnCache() (*LongSpawnCache, error) {
	store, err := otter.New(&otter.Options[string, int64]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, int64](time.Hour),
	})
	if err != nil {
		return nil, err
	}
	return &LongSpawnCache{store: store}, nil
}

// Add records a long spawn. When the expiry is unknown (sentinel timing),
// the entry keeps the default TTL.
func (c *LongSpawnCache) Add(ls model.LongSpawn) {
	key := ls.Key()
	c.store.Set(key, ls.ExpireTS)
	if ttl := time.Until(time.Unix(ls.ExpireTS, 0)); ttl > 0 {
		c.store.SetExpiresAfter(key, ttl)
	}
}

// Contains reports whether the composite key is known.
func (c *LongSpawnCache) Contains(key string) bool {
	_, ok := c.store.GetIfPresent(key)
	return ok
}

// CleanExpired is a sweep hook for symmetry with SightingCache; entries
// expire via their per-entry TTL.
func (c *LongSpawnCache) CleanExpired() {}
