// Package pipeline serializes all database writes onto a single consumer.
// Workers enqueue observations and never touch the store directly.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"wildscan/pkg/cache"
	"wildscan/pkg/model"
	"wildscan/pkg/store"
)

const queueDepth = 4096

type item struct {
	sighting  *model.Sighting
	longspawn *model.LongSpawn
	fort      *model.Fort
	kill      bool
}

// Pipeline drains queued observations into the store. Items enqueued before
// Kill are persisted before the consumer exits.
type Pipeline struct {
	store      store.Store
	sightings  *cache.SightingCache
	longspawns *cache.LongSpawnCache
	log        *slog.Logger

	items      chan item
	commitDue  atomic.Bool
	cleanDue   atomic.Bool
	done       chan struct{}
	backlogLen atomic.Int64
}

// New creates a pipeline and starts its consumer goroutine.
func New(st store.Store, sightings *cache.SightingCache, longspawns *cache.LongSpawnCache, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		store:      st,
		sightings:  sightings,
		longspawns: longspawns,
		log:        log.With("job", "pipeline"),
		items:      make(chan item, queueDepth),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// AddSighting enqueues a transient observation.
func (p *Pipeline) AddSighting(s model.Sighting) { p.enqueue(item{sighting: &s}) }

// AddLongSpawn enqueues an extended-lifetime observation.
func (p *Pipeline) AddLongSpawn(ls model.LongSpawn) { p.enqueue(item{longspawn: &ls}) }

// AddFort enqueues a landmark observation.
func (p *Pipeline) AddFort(f model.Fort) { p.enqueue(item{fort: &f}) }

// Commit asks the consumer to flush the WAL at the next opportunity.
func (p *Pipeline) Commit() { p.commitDue.Store(true) }

// CleanCaches asks the consumer to sweep expired cache entries.
func (p *Pipeline) CleanCaches() { p.cleanDue.Store(true) }

// Backlog returns the number of queued items.
func (p *Pipeline) Backlog() int { return int(p.backlogLen.Load()) }

// Kill enqueues the termination sentinel. Items already queued are drained
// first.
func (p *Pipeline) Kill() { p.enqueue(item{kill: true}) }

// Wait blocks until the consumer has exited.
func (p *Pipeline) Wait() { <-p.done }

func (p *Pipeline) enqueue(it item) {
	p.backlogLen.Add(1)
	p.items <- it
}

func (p *Pipeline) run() {
	defer close(p.done)
	ctx := context.Background()

	for it := range p.items {
		p.backlogLen.Add(-1)
		if it.kill {
			break
		}
		p.process(ctx, it)
		p.housekeeping(ctx)
	}

	if err := p.store.Checkpoint(ctx); err != nil {
		p.log.Error("final checkpoint failed", "error", err)
	}
	p.log.Info("pipeline stopped")
}

// process never returns an error: a failed item is logged and dropped so a
// single bad row cannot stall the consumer.
func (p *Pipeline) process(ctx context.Context, it item) {
	switch {
	case it.sighting != nil:
		s := *it.sighting
		if p.sightings.Contains(s) {
			p.log.Debug("sighting already cached", "key", s.Key())
			return
		}
		if err := p.store.AddSighting(ctx, s); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				p.log.Info("duplicate sighting", "key", s.Key())
			} else {
				p.log.Error("failed to add sighting", "error", err)
				return
			}
		}
		p.sightings.Add(s)

	case it.longspawn != nil:
		ls := *it.longspawn
		if p.longspawns.Contains(ls.Key()) {
			return
		}
		if err := p.store.AddLongSpawn(ctx, ls); err != nil {
			p.log.Error("failed to add long spawn", "error", err)
			return
		}
		p.longspawns.Add(ls)

	case it.fort != nil:
		if err := p.store.AddFort(ctx, *it.fort); err != nil {
			p.log.Error("failed to add fort", "error", err)
		}
	}
}

func (p *Pipeline) housekeeping(ctx context.Context) {
	if p.cleanDue.CompareAndSwap(true, false) {
		p.sightings.CleanExpired()
		p.longspawns.CleanExpired()
	}
	if p.commitDue.CompareAndSwap(true, false) {
		start := time.Now()
		if err := p.store.Checkpoint(ctx); err != nil {
			p.log.Error("checkpoint failed", "error", err)
			return
		}
		p.log.Debug("checkpoint", "took", time.Since(start))
	}
}
