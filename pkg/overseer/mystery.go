package overseer

import (
	"context"
	"time"

	"wildscan/pkg/geo"
)

// queueGridMysteries seeds the mystery queue with the dense bootstrap
// lattice, used when the catalog is too thin to schedule by the clock.
func (o *Overseer) queueGridMysteries() {
	points := o.bounds.BootstrapPoints(o.cfg.Area.GridRows, o.cfg.Area.GridCols)
	o.mysteryMu.Lock()
	o.mysteryQueue = append(o.mysteryQueue, points...)
	o.mysteryMu.Unlock()
}

// popMystery takes the next unknown-timing point, refilling the queue from
// the catalog when it runs dry.
func (o *Overseer) popMystery() (geo.Point, bool) {
	o.mysteryMu.Lock()
	defer o.mysteryMu.Unlock()
	if len(o.mysteryQueue) == 0 {
		o.mysteryQueue = o.rt.Catalog.Mysteries()
	}
	if len(o.mysteryQueue) == 0 {
		return geo.Point{}, false
	}
	p := o.mysteryQueue[0]
	o.mysteryQueue = o.mysteryQueue[1:]
	return p, true
}

// dispatchOneMystery sends one worker to an unknown-timing point if a
// dispatch slot is free right now. Never blocks.
func (o *Overseer) dispatchOneMystery(ctx context.Context) bool {
	if ctx.Err() != nil || o.killed.Load() {
		return false
	}
	p, ok := o.popMystery()
	if !ok {
		return false
	}
	if !o.dispatchSem.TryAcquire(1) {
		// Put it back for the next slack window.
		o.mysteryMu.Lock()
		o.mysteryQueue = append([]geo.Point{p}, o.mysteryQueue...)
		o.mysteryMu.Unlock()
		return false
	}

	o.visits.Add(1)
	go func() {
		defer o.visits.Done()
		defer o.dispatchSem.Release(1)

		target := geo.Jitter(p, pointJitter, 2)
		deadline := time.Now().Add(time.Duration(o.cfg.Scan.GiveUpUnknown))
		w := o.bestWorker(ctx, target, deadline)
		if w == nil {
			return
		}
		defer w.Unlock()

		if _, err := w.Visit(ctx, target, ""); err != nil {
			o.log.Debug("mystery visit gave up", "error", err)
		}
	}()
	return true
}

// drainMysteries keeps feeding unknown-timing points until the given unix
// second, typically the top of the next hour.
func (o *Overseer) drainMysteries(ctx context.Context, until int64) {
	for time.Now().Unix() < until {
		if ctx.Err() != nil || o.killed.Load() {
			return
		}
		o.waitWhilePaused(ctx)
		if !o.dispatchOneMystery(ctx) {
			if err := sleepCtx(ctx, time.Second); err != nil {
				return
			}
		}
	}
}
