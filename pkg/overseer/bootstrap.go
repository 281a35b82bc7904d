package overseer

import (
	"context"
	"time"
)

const (
	// stage1Spacing staggers the initial fan-out so the logins and first
	// requests do not land as one burst.
	stage1Spacing = 250 * time.Millisecond
)

// runBootstrap sweeps an unmapped area. Stage one sends every worker to its
// own cell center; stage two walks a denser lattice to cover the visibility
// gaps between cells. Both stages fill the catalog through the normal visit
// path.
func (o *Overseer) runBootstrap(ctx context.Context) {
	o.log.Info("bootstrapping area", "workers", len(o.workerList()))

	// Stage one: one visit per worker at its home cell.
	for i, w := range o.workerList() {
		if ctx.Err() != nil || o.killed.Load() {
			return
		}
		center := o.bounds.CellCenter(i, o.cfg.Area.GridRows, o.cfg.Area.GridCols)
		if !w.TryLock() {
			continue
		}
		o.visits.Add(1)
		go func() {
			defer o.visits.Done()
			defer w.Unlock()
			if _, err := w.BootstrapVisit(ctx, center); err != nil {
				o.log.Debug("bootstrap visit gave up", "worker", w.ID, "error", err)
			}
		}()
		if err := sleepCtx(ctx, stage1Spacing); err != nil {
			return
		}
	}
	o.visits.Wait()

	// Stage two: the dense lattice, every point must be visited so the
	// catalog starts with full coverage.
	points := o.bounds.BootstrapPoints(o.cfg.Area.GridRows, o.cfg.Area.GridCols)
	o.log.Info("bootstrap stage two", "points", len(points))
	for _, p := range points {
		if ctx.Err() != nil || o.killed.Load() {
			return
		}
		if err := o.dispatchSem.Acquire(ctx, 1); err != nil {
			return
		}
		target := p
		o.visits.Add(1)
		go func() {
			defer o.visits.Done()
			defer o.dispatchSem.Release(1)

			// No deadline: every lattice point must be visited.
			w := o.bestWorker(ctx, target, time.Time{})
			if w == nil {
				return
			}
			defer w.Unlock()
			if _, err := w.BootstrapVisit(ctx, target); err != nil {
				o.log.Debug("bootstrap visit gave up", "error", err)
			}
		}()
	}
	o.visits.Wait()
	o.log.Info("bootstrap complete")
}
