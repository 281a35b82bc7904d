// Package catalog keeps the known spawn points for the scan area, ordered by
// their second-of-hour offset, plus the mystery points whose timing is still
// unknown.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"wildscan/pkg/geo"
	"wildscan/pkg/model"
	"wildscan/pkg/store"
)

const mysteryKeyDecimals = 4

// Catalog is safe for concurrent use.
type Catalog struct {
	store        store.Store
	snapshotPath string
	log          *slog.Logger

	mu        sync.RWMutex
	spawns    []model.Spawn
	mysteries map[string]geo.Point
}

// New creates an empty catalog. snapshotPath may be "" to disable snapshots.
func New(st store.Store, snapshotPath string, log *slog.Logger) *Catalog {
	return &Catalog{
		store:        st,
		snapshotPath: snapshotPath,
		log:          log.With("job", "catalog"),
		mysteries:    make(map[string]geo.Point),
	}
}

// Update reloads the spawn list. With loadSnapshot set it prefers the JSON
// snapshot and falls back to the database when the file is absent.
func (c *Catalog) Update(ctx context.Context, loadSnapshot bool) error {
	if loadSnapshot && c.snapshotPath != "" {
		spawns, err := c.readSnapshot()
		switch {
		case err == nil:
			c.replace(spawns)
			c.log.Info("loaded spawns from snapshot", "count", len(spawns))
			return nil
		case errors.Is(err, fs.ErrNotExist):
			c.log.Info("no spawn snapshot, reading database")
		default:
			return fmt.Errorf("read snapshot: %w", err)
		}
	}

	spawns, err := c.store.LoadSpawns(ctx)
	if err != nil {
		return fmt.Errorf("load spawns: %w", err)
	}
	c.replace(spawns)
	c.log.Info("loaded spawns from database", "count", len(spawns))
	return nil
}

func (c *Catalog) replace(spawns []model.Spawn) {
	sort.SliceStable(spawns, func(i, j int) bool { return spawns[i].OffsetS < spawns[j].OffsetS })
	c.mu.Lock()
	c.spawns = spawns
	c.mu.Unlock()
}

// Record persists a newly discovered spawn point and slots it into the
// in-memory order.
func (c *Catalog) Record(ctx context.Context, sp model.Spawn) error {
	if err := c.store.UpsertSpawn(ctx, sp); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.spawns {
		if c.spawns[i].ID == sp.ID {
			c.spawns[i] = sp
			sort.SliceStable(c.spawns, func(a, b int) bool { return c.spawns[a].OffsetS < c.spawns[b].OffsetS })
			return nil
		}
	}
	i := sort.Search(len(c.spawns), func(i int) bool { return c.spawns[i].OffsetS >= sp.OffsetS })
	c.spawns = append(c.spawns, model.Spawn{})
	copy(c.spawns[i+1:], c.spawns[i:])
	c.spawns[i] = sp
	return nil
}

// Len returns the number of known spawn points.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.spawns)
}

// Items returns the spawns in ascending offset order.
func (c *Catalog) Items() []model.Spawn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Spawn, len(c.spawns))
	copy(out, c.spawns)
	return out
}

// AfterLast reports whether the current second of the hour is past the last
// known spawn offset, meaning the hour's pass is complete.
func (c *Catalog) AfterLast(now int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.spawns) == 0 {
		return false
	}
	return now%3600 > c.spawns[len(c.spawns)-1].OffsetS
}

// StartPointIndex returns the index to resume from mid-hour: the first spawn
// whose offset has not yet passed. Spawns within 3 seconds of now still count
// as upcoming.
func (c *Catalog) StartPointIndex(now int64) int {
	second := now % 3600
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, sp := range c.spawns {
		if sp.OffsetS >= second-3 {
			return i
		}
	}
	return 0
}

// AddMystery registers a point that produced a sighting with no known spawn
// timing. Points closer than ~10m collapse onto one entry.
func (c *Catalog) AddMystery(p geo.Point) {
	key := geo.RoundKey(p, mysteryKeyDecimals)
	c.mu.Lock()
	c.mysteries[key] = p
	c.mu.Unlock()
}

// ResolveMystery drops a point once its spawn timing is known.
func (c *Catalog) ResolveMystery(p geo.Point) {
	key := geo.RoundKey(p, mysteryKeyDecimals)
	c.mu.Lock()
	delete(c.mysteries, key)
	c.mu.Unlock()
}

// Mysteries returns the current unknown-timing points.
func (c *Catalog) Mysteries() []geo.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]geo.Point, 0, len(c.mysteries))
	for _, p := range c.mysteries {
		out = append(out, p)
	}
	return out
}

// MysteriesCount returns the number of unknown-timing points.
func (c *Catalog) MysteriesCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mysteries)
}

// SaveSnapshot writes the spawn list as JSON for fast startup.
func (c *Catalog) SaveSnapshot() error {
	if c.snapshotPath == "" {
		return nil
	}
	c.mu.RLock()
	data, err := json.Marshal(c.spawns)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(c.snapshotPath, data, 0o644)
}

func (c *Catalog) readSnapshot() ([]model.Spawn, error) {
	data, err := os.ReadFile(c.snapshotPath)
	if err != nil {
		return nil, err
	}
	var spawns []model.Spawn
	if err := json.Unmarshal(data, &spawns); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.snapshotPath, err)
	}
	return spawns, nil
}
