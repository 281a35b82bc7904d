// Package overseer schedules workers over the spawn catalog: one launcher
// goroutine walks the hour's spawns, a supervisory loop keeps the pipeline
// and caches ticking, and every visit runs on its own goroutine behind a
// dispatch semaphore.
package overseer

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"wildscan/pkg/account"
	"wildscan/pkg/config"
	"wildscan/pkg/geo"
	"wildscan/pkg/model"
	"wildscan/pkg/status"
	"wildscan/pkg/worker"
)

const (
	// pointJitter is applied to every visit target so workers never stand
	// exactly on the recorded coordinate.
	pointJitter = 3.3e-4

	// lateGrace is how far past the spawn second a visit may start before
	// an already-observed spawn is treated as redundant.
	lateGrace = 5

	// matchRetryWait spaces attempts to find an eligible worker.
	matchRetryWait = 2 * time.Second

	// pausedWait is the poll interval while the captcha backlog has the
	// scheduler stopped.
	pausedWait = 15 * time.Second

	// minSpawnsForPass is the catalog size under which the scheduler keeps
	// feeding grid points as mysteries instead of walking the hour.
	minSpawnsForPass = 10

	historyBuckets = 10
)

// Overseer owns the workers and the scheduling state.
type Overseer struct {
	cfg *config.Config
	rt  *worker.Runtime
	log *slog.Logger

	bounds      geo.Bounds
	dispatchSem *semaphore.Weighted
	started     time.Time

	wmu     sync.Mutex
	workers []*worker.Worker

	mysteryMu    sync.Mutex
	mysteryQueue []geo.Point

	paused    atomic.Bool
	killed    atomic.Bool
	bootstrap atomic.Bool

	searches  atomic.Int64
	skipped   atomic.Int64
	redundant atomic.Int64

	histMu      sync.Mutex
	seenHistory []int64
	lastSeen    int64

	visits sync.WaitGroup
}

// New provisions accounts and places one worker at each grid cell center.
func New(cfg *config.Config, rt *worker.Runtime, log *slog.Logger, forceBootstrap bool) (*Overseer, error) {
	o := &Overseer{
		cfg: cfg,
		rt:  rt,
		log: log.With("job", "overseer"),
		bounds: geo.Bounds{
			Start: geo.Point{Lat: cfg.Area.MapStart[0], Lon: cfg.Area.MapStart[1]},
			End:   geo.Point{Lat: cfg.Area.MapEnd[0], Lon: cfg.Area.MapEnd[1]},
		},
		dispatchSem: semaphore.NewWeighted(int64(cfg.Area.Cells())),
		started:     time.Now(),
	}
	o.bootstrap.Store(forceBootstrap)

	cells := cfg.Area.Cells()
	accounts, err := rt.Accounts.Provision(cfg.Accounts, cells)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cells; i++ {
		start := o.bounds.CellCenter(i, cfg.Area.GridRows, cfg.Area.GridCols)
		o.workers = append(o.workers, worker.New(i, rt, accounts[i], start, log))
	}
	return o, nil
}

// Launch runs the scheduler until the context is cancelled or Kill is
// called. Intended to run on its own goroutine.
func (o *Overseer) Launch(ctx context.Context, loadSnapshot bool) error {
	first := true
	for ctx.Err() == nil && !o.killed.Load() {
		if err := o.rt.Catalog.Update(ctx, first && loadSnapshot); err != nil {
			return err
		}
		first = false

		if o.bootstrap.CompareAndSwap(true, false) || o.rt.Catalog.Len() == 0 {
			o.runBootstrap(ctx)
			continue
		}
		o.runPass(ctx)
	}
	return ctx.Err()
}

// runPass walks one hour of the catalog, resuming mid-hour when the process
// started late.
func (o *Overseer) runPass(ctx context.Context) {
	spawns := o.rt.Catalog.Items()
	now := time.Now().Unix()
	hourStart := now / 3600 * 3600

	if len(spawns) < minSpawnsForPass {
		// Too little timing data to schedule by the clock: sweep the
		// grid as mysteries and let the visits fill the catalog.
		o.queueGridMysteries()
		o.drainMysteries(ctx, hourStart+3600)
		return
	}

	if o.rt.Catalog.AfterLast(now) {
		o.drainMysteries(ctx, hourStart+3600)
		o.sleepUntil(ctx, hourStart+3600)
		return
	}

	for i := o.rt.Catalog.StartPointIndex(now); i < len(spawns); i++ {
		if ctx.Err() != nil || o.killed.Load() {
			return
		}
		o.waitWhilePaused(ctx)

		sp := spawns[i]
		spawnTime := hourStart + sp.OffsetS
		now = time.Now().Unix()

		switch o.classifySpawn(sp, now, hourStart) {
		case redundantSpawn:
			o.redundant.Add(1)
			continue
		case skippedSpawn:
			o.skipped.Add(1)
			continue
		}

		// Ahead of schedule: spend the slack on unknown-timing points.
		for time.Now().Unix() < spawnTime-1 {
			if !o.dispatchOneMystery(ctx) {
				o.sleepUntil(ctx, spawnTime-1)
				break
			}
		}

		if err := o.dispatchSem.Acquire(ctx, 1); err != nil {
			return
		}
		o.visits.Add(1)
		go o.tryPoint(ctx, sp, spawnTime)
	}

	o.drainMysteries(ctx, hourStart+3600)
	o.sleepUntil(ctx, hourStart+3600)
}

type spawnDecision int

const (
	dispatchSpawn spawnDecision = iota
	redundantSpawn
	skippedSpawn
)

// classifySpawn applies the late-arrival policy. A spawn already observed
// this hour is redundant once the visit would start more than a few seconds
// late; an unobserved one is only dropped past the skip window. The
// redundant check runs first so an observed spawn is never counted as
// skipped.
func (o *Overseer) classifySpawn(sp model.Spawn, now, hourStart int64) spawnDecision {
	spawnTime := hourStart + sp.OffsetS
	if now > spawnTime+lateGrace && o.rt.Sightings.SpawnObserved(sp.ID, hourStart) {
		return redundantSpawn
	}
	if now > spawnTime+int64(time.Duration(o.cfg.Scan.SkipSpawn).Seconds()) {
		return skippedSpawn
	}
	return dispatchSpawn
}

// tryPoint visits one spawn. The dispatch slot and worker lock are always
// released, whatever the visit outcome.
func (o *Overseer) tryPoint(ctx context.Context, sp model.Spawn, spawnTime int64) {
	defer o.visits.Done()
	defer o.dispatchSem.Release(1)

	point := geo.Jitter(geo.Point{Lat: sp.Lat, Lon: sp.Lon, Alt: sp.Alt}, pointJitter, 2)
	deadline := time.Unix(spawnTime, 0).Add(time.Duration(o.cfg.Scan.GiveUpKnown))

	w := o.bestWorker(ctx, point, deadline)
	if w == nil {
		o.skipped.Add(1)
		return
	}
	defer w.Unlock()

	// Spawns are visited after their second, never before.
	for time.Now().Unix() < spawnTime {
		if err := sleepCtx(ctx, time.Second); err != nil {
			return
		}
	}

	if _, err := w.Visit(ctx, point, sp.ID); err != nil {
		o.log.Debug("visit gave up", "spawn", sp.ID, "error", err)
	}
}

// bestWorker picks the idle worker with the lowest estimated travel speed;
// equally slow candidates resolve to the later one in the (periodically
// shuffled) scan order. The cheap pre-lock screening uses a widened limit;
// the exact limit is re-checked once the worker is locked. Blocks up to the
// deadline; a zero deadline never gives up.
func (o *Overseer) bestWorker(ctx context.Context, p geo.Point, deadline time.Time) *worker.Worker {
	limit := o.cfg.Scan.SpeedLimit
	for {
		if ctx.Err() != nil || o.killed.Load() {
			return nil
		}
		o.searches.Add(1)
		o.maybeShuffle()

		now := time.Now()
		var best *worker.Worker
		bestSpeed := math.MaxFloat64
		for _, w := range o.workerList() {
			if w.Killed() || w.Busy() {
				continue
			}
			mph, ok := w.FastSpeed(p, now)
			if !ok || mph >= w.CoarseLimit() {
				continue
			}
			if mph <= bestSpeed {
				best, bestSpeed = w, mph
			}
		}
		if best != nil && best.TryLock() {
			if mph, ok := best.AccurateSpeed(p, time.Now()); ok && mph <= limit {
				return best
			}
			best.Unlock()
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		if err := sleepCtx(ctx, matchRetryWait); err != nil {
			return nil
		}
	}
}

// maybeShuffle reorders the worker list so the same workers do not always
// win the screening pass.
func (o *Overseer) maybeShuffle() {
	threshold := int64(o.cfg.Scan.ShuffleThreshold)
	if threshold <= 0 || o.searches.Load() < threshold {
		return
	}
	o.searches.Store(0)
	o.wmu.Lock()
	rand.Shuffle(len(o.workers), func(i, j int) {
		o.workers[i], o.workers[j] = o.workers[j], o.workers[i]
	})
	o.wmu.Unlock()
}

func (o *Overseer) workerList() []*worker.Worker {
	o.wmu.Lock()
	defer o.wmu.Unlock()
	out := make([]*worker.Worker, len(o.workers))
	copy(out, o.workers)
	return out
}

// waitWhilePaused blocks while the captcha backlog exceeds the configured
// ceiling. Visit bookkeeping does not advance during the pause.
func (o *Overseer) waitWhilePaused(ctx context.Context) {
	for o.rt.Accounts.Captcha.Len() > o.cfg.Captcha.MaxCaptchas {
		if !o.paused.Swap(true) {
			o.log.Warn("pausing, captcha backlog over limit",
				"backlog", o.rt.Accounts.Captcha.Len(), "limit", o.cfg.Captcha.MaxCaptchas)
		}
		if err := sleepCtx(ctx, pausedWait); err != nil {
			return
		}
		if o.killed.Load() {
			return
		}
	}
	if o.paused.Swap(false) {
		o.log.Info("resuming, captcha backlog cleared")
	}
}

// Paused reports whether the scheduler is waiting on the captcha backlog.
func (o *Overseer) Paused() bool { return o.paused.Load() }

// Kill stops scheduling, retires the workers, waits for in-flight visits,
// and snapshots state to disk.
func (o *Overseer) Kill() {
	if o.killed.Swap(true) {
		return
	}
	o.log.Info("shutting down")
	for _, w := range o.workerList() {
		w.Kill()
	}
	o.visits.Wait()

	if err := o.rt.Catalog.SaveSnapshot(); err != nil {
		o.log.Error("failed to save spawn snapshot", "error", err)
	}
	var assigned []*account.Account
	for _, w := range o.workerList() {
		if a := w.Account(); a != nil {
			assigned = append(assigned, a)
		}
	}
	if err := o.rt.Accounts.SaveSnapshot(assigned); err != nil {
		o.log.Error("failed to save account snapshot", "error", err)
	}
}

// Snapshot assembles the full engine view for the status screen and viewer.
func (o *Overseer) Snapshot() status.Snapshot {
	workers := o.workerList()
	snap := status.Snapshot{
		GridCols:     o.cfg.Area.GridCols,
		Skipped:      o.skipped.Load(),
		Redundant:    o.redundant.Load(),
		Mysteries:    o.rt.Catalog.MysteriesCount(),
		SpawnsKnown:  o.rt.Catalog.Len(),
		CaptchaQueue: o.rt.Accounts.Captcha.Len(),
		ExtraQueue:   o.rt.Accounts.Extra.Len(),
		Paused:       o.paused.Load(),
		StartedAt:    o.started,
	}
	for _, w := range workers {
		s := w.Snapshot()
		snap.Workers = append(snap.Workers, s)
		snap.Visits += int64(s.Visits)
		snap.Seen += int64(s.Seen)
	}
	o.histMu.Lock()
	snap.SeenHistory = append([]int64(nil), o.seenHistory...)
	o.histMu.Unlock()
	return snap
}

func (o *Overseer) sleepUntil(ctx context.Context, unix int64) {
	for time.Now().Unix() < unix {
		if ctx.Err() != nil || o.killed.Load() {
			return
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
