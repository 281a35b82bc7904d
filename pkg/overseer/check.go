package overseer

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"wildscan/pkg/status"
	"wildscan/pkg/worker"
)

const (
	checkTick       = 500 * time.Millisecond
	checkTickPaused = 15 * time.Second

	cacheCleanEvery = 900 * time.Second
	commitEvery     = 5 * time.Second
	statsEvery      = 5 * time.Second
	historyEvery    = 10 * time.Second
	swapWorstEvery  = 600 * time.Second
	swapMinVisits   = 25
)

// Check is the supervisory loop: cache sweeps, commit signals, stats, the
// seen-per-interval history, and the least-productive account swap. With
// statusBar set it also redraws the status screen on out every tick.
func (o *Overseer) Check(ctx context.Context, statusBar bool, out io.Writer) {
	var lastClean, lastCommit, lastStats, lastHistory, lastSwap time.Time
	start := time.Now()
	lastClean, lastCommit, lastStats, lastHistory, lastSwap = start, start, start, start, start

	for ctx.Err() == nil && !o.killed.Load() {
		now := time.Now()

		if now.Sub(lastClean) >= cacheCleanEvery {
			lastClean = now
			o.rt.Pipeline.CleanCaches()
		}
		if now.Sub(lastCommit) >= commitEvery {
			lastCommit = now
			o.rt.Pipeline.Commit()
		}
		if now.Sub(lastSwap) >= swapWorstEvery {
			lastSwap = now
			o.swapLeastProductive()
		}
		if now.Sub(lastHistory) >= historyEvery {
			lastHistory = now
			o.pushHistory()
		}
		if now.Sub(lastStats) >= statsEvery {
			lastStats = now
			snap := o.Snapshot()
			if statusBar {
				fmt.Fprint(out, "\033[2J\033[H", status.Render(snap, now))
			} else {
				o.log.Info("stats",
					"visits", snap.Visits, "seen", snap.Seen,
					"skipped", snap.Skipped, "redundant", snap.Redundant,
					"spawns", snap.SpawnsKnown, "mysteries", snap.Mysteries,
					"backlog", o.rt.Pipeline.Backlog())
			}
		}

		tick := checkTick
		if o.paused.Load() {
			tick = checkTickPaused
		}
		if err := sleepCtx(ctx, tick); err != nil {
			return
		}
	}
}

// pushHistory appends the entities seen since the last bucket, keeping the
// most recent buckets only.
func (o *Overseer) pushHistory() {
	var total int64
	for _, w := range o.workerList() {
		total += int64(w.Seen())
	}
	o.histMu.Lock()
	o.seenHistory = append(o.seenHistory, total-o.lastSeen)
	if len(o.seenHistory) > historyBuckets {
		o.seenHistory = o.seenHistory[len(o.seenHistory)-historyBuckets:]
	}
	o.lastSeen = total
	o.histMu.Unlock()
}

// swapLeastProductive benches the account seeing the fewest entities per
// visit, the usual sign of a shadow-limited login. Only runs while spare
// accounts are available to take over.
func (o *Overseer) swapLeastProductive() {
	if o.rt.Accounts.Extra.Len() == 0 {
		return
	}
	var worst *worker.Worker
	worstRate := math.MaxFloat64
	for _, w := range o.workerList() {
		visits := w.Visits()
		if w.Killed() || visits < swapMinVisits {
			continue
		}
		rate := float64(w.Seen()) / float64(visits)
		if rate < worstRate {
			worst, worstRate = w, rate
		}
	}
	if worst == nil {
		return
	}
	o.log.Info("benching least productive account",
		"worker", worst.ID, "account", worst.Username(), "rate", worstRate)
	worst.SwapAccount("least productive")
}
