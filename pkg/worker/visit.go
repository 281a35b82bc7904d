package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"wildscan/pkg/game"
	"wildscan/pkg/geo"
	"wildscan/pkg/model"
)

// ErrMaxRetries means the visit envelope gave up.
var ErrMaxRetries = errors.New("visit failed after retries")

// ErrWorkerKilled means the worker was retired mid-visit.
var ErrWorkerKilled = errors.New("worker killed")

const (
	// unknownLifetime is recorded when the upstream does not report a
	// usable remaining lifetime. 901s marks these rows as estimates: it
	// can never result from the real field, which caps at 15 minutes.
	unknownLifetime = 901 * time.Second

	// maxReportedLifetime bounds a trustworthy time-till-hidden value.
	maxReportedLifetime = 90 * time.Minute

	// visitJitter perturbs every visit position by up to ±1e-5 degrees.
	visitJitter = 1e-5
)

// Visit moves the worker to p and scans it, retrying transient upstream
// failures. Returns the number of entities seen.
func (w *Worker) Visit(ctx context.Context, p geo.Point, spawnID string) (int, error) {
	forbidden := &backoff.Backoff{Min: 15 * time.Second, Max: 20 * time.Second, Factor: 1.2, Jitter: true}
	throttled := &backoff.Backoff{Min: 10 * time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	generic := &backoff.Backoff{Min: 8 * time.Second, Max: 12 * time.Second, Factor: 1.2, Jitter: true}

	retries := w.rt.Cfg.Scan.MaxRetries
	for attempt := 0; attempt < retries; attempt++ {
		seen, err := w.visitOnce(ctx, p, spawnID)
		if err == nil {
			return seen, nil
		}

		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrWorkerKilled):
			return 0, err
		case errors.Is(err, game.ErrBannedAccount):
			// visitOnce already swapped the account; retry with the new one.
			if err := w.sleep(ctx, generic.Duration()); err != nil {
				return 0, err
			}
		case errors.Is(err, game.ErrAccessForbidden):
			w.setErrorCode(CodeIPBanned)
			w.swapCircuit("ip banned")
			if err := w.sleep(ctx, forbidden.Duration()); err != nil {
				return 0, err
			}
		case errors.Is(err, game.ErrThrottled):
			w.setErrorCode(CodeThrottle)
			if err := w.sleep(ctx, throttled.Duration()); err != nil {
				return 0, err
			}
		case errors.Is(err, game.ErrAuthFailed), errors.Is(err, game.ErrNotLoggedIn):
			w.setErrorCode(CodeLoginFail)
			w.mu.Lock()
			w.loggedIn = false
			w.mu.Unlock()
			if err := w.sleep(ctx, generic.Duration()); err != nil {
				return 0, err
			}
		case errors.Is(err, game.ErrServerBusy):
			w.setErrorCode(CodeServerBusy)
			if err := w.sleep(ctx, generic.Duration()); err != nil {
				return 0, err
			}
		case errors.Is(err, game.ErrMalformedResponse):
			w.setErrorCode(CodeMalformed)
			w.mu.Lock()
			w.malformed++
			restart := w.malformed >= 2
			w.mu.Unlock()
			if restart {
				w.restartClient()
			}
			if err := w.sleep(ctx, generic.Duration()); err != nil {
				return 0, err
			}
		default:
			w.log.Warn("visit failed", "attempt", attempt+1, "error", err)
			if err := w.sleep(ctx, generic.Duration()); err != nil {
				return 0, err
			}
		}
	}
	w.setErrorCode(CodeMaxRetries)
	return 0, fmt.Errorf("%w: %s", ErrMaxRetries, geo.RoundKey(p, 5))
}

// BootstrapVisit scans a coverage point, nudging the position slightly
// between attempts so one blocked view does not stall the sweep.
func (w *Worker) BootstrapVisit(ctx context.Context, p geo.Point) (int, error) {
	var seen int
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		seen, err = w.Visit(ctx, p, "")
		if err == nil {
			return seen, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrWorkerKilled) {
			return 0, err
		}
		p = geo.Jitter(p, 5e-5, 0)
	}
	return 0, err
}

func (w *Worker) visitOnce(ctx context.Context, p geo.Point, spawnID string) (int, error) {
	if w.Killed() {
		return 0, ErrWorkerKilled
	}
	if err := w.ensureLogin(ctx); err != nil {
		return 0, err
	}

	if p.Alt == 0 {
		p.Alt = geo.RandomAltitude()
	}
	// Never stand exactly on the target coordinate.
	p = geo.Jitter(p, visitJitter, 1)

	w.mu.Lock()
	client := w.client
	proxyURL := w.proxyURL
	w.mu.Unlock()
	client.SetPosition(p.Lat, p.Lon, p.Alt)

	cells, err := w.rt.Cells.Cover(p)
	if err != nil {
		return 0, err
	}

	if err := w.rt.NetSem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := client.GetMapObjects(ctx, p.Lat, p.Lon, cells)
	w.rt.NetSem.Release(1)
	w.rt.Proxies.RecordLatency(proxyURL, time.Since(start))
	if err != nil {
		if w.rt.Proxies.RecordFailure(proxyURL) {
			w.swapCircuit("proxy failures")
		}
		return 0, err
	}
	if w.rt.Proxies.Slow(proxyURL) {
		w.swapCircuit("slow circuit")
	}

	if resp == nil || resp.Responses == nil || resp.Responses.GetMapObjects == nil {
		if resp != nil && resp.StatusCode == game.StatusBanned {
			return 0, w.handleBanned()
		}
		w.setErrorCode(CodeMalformed)
		return 0, game.ErrMalformedResponse
	}
	if resp.StatusCode == game.StatusBanned {
		return 0, w.handleBanned()
	}
	if url := resp.ChallengeURL(); url != "" {
		return 0, w.handleCaptcha(url)
	}

	seen := w.processMapObjects(ctx, resp.Responses.GetMapObjects, p.Alt)
	w.finishVisit(p, seen)
	w.log.Debug("visited", "spawn", spawnID, "seen", seen)
	return seen, nil
}

func (w *Worker) ensureLogin(ctx context.Context) error {
	w.mu.Lock()
	loggedIn := w.loggedIn
	acct := w.acct
	client := w.client
	w.mu.Unlock()
	if loggedIn {
		return nil
	}

	if err := w.rt.LoginSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.rt.LoginSem.Release(1)
	if err := w.rt.WaitLoginGate(ctx); err != nil {
		return err
	}

	if err := client.SetAuthentication(ctx, acct.Username, acct.Password, acct.Provider); err != nil {
		return err
	}
	w.mu.Lock()
	w.loggedIn = true
	w.mu.Unlock()
	w.log.Info("logged in", "account", acct.Username)
	return nil
}

func (w *Worker) processMapObjects(ctx context.Context, mo *game.MapObjects, alt float64) int {
	cfg := w.rt.Cfg
	now := time.Now().Unix()
	seen := 0

	for _, cell := range mo.MapCells {
		for _, e := range cell.WildEncounters {
			seen++
			accurate := e.TimeTillHiddenMs > 0 && e.TimeTillHiddenMs <= maxReportedLifetime.Milliseconds()

			var expire int64
			if accurate {
				expire = (e.LastModifiedMs + e.TimeTillHiddenMs) / 1000
			} else {
				expire = now + int64(unknownLifetime.Seconds())
			}
			s := model.Sighting{
				EncounterID: e.EncounterID,
				SpeciesID:   e.SpeciesID,
				SpawnID:     e.SpawnPointID,
				ExpireTS:    expire,
				Lat:         e.Lat,
				Lon:         e.Lon,
			}
			w.rt.Pipeline.AddSighting(s)

			if cfg.Notify.Enabled && w.rt.Notifier.Eligible(s.SpeciesID) {
				if ok, why := w.rt.Notifier.Notify(ctx, s); !ok {
					w.log.Debug("not notifying", "species", s.SpeciesID, "reason", why)
				}
			}

			where := geo.Point{Lat: e.Lat, Lon: e.Lon}
			if accurate {
				if e.SpawnPointID != "" {
					sp := model.Spawn{
						ID:      e.SpawnPointID,
						Lat:     e.Lat,
						Lon:     e.Lon,
						Alt:     alt,
						OffsetS: expire % 3600,
					}
					if err := w.rt.Catalog.Record(ctx, sp); err != nil {
						w.log.Error("failed to record spawn", "error", err)
					}
				}
				w.rt.Catalog.ResolveMystery(where)
			} else {
				w.rt.Catalog.AddMystery(where)
				if cfg.Scan.LongSpawns {
					w.rt.Pipeline.AddLongSpawn(model.LongSpawn{
						Sighting:         s,
						TimeTillHiddenMs: e.TimeTillHiddenMs,
						LastModifiedMs:   e.LastModifiedMs,
					})
				}
			}
		}

		for _, f := range cell.Forts {
			if !f.Enabled || f.Type == game.FortTypePokestop {
				continue
			}
			w.rt.Pipeline.AddFort(model.Fort{
				ExternalID:     f.ID,
				Lat:            f.Lat,
				Lon:            f.Lon,
				Team:           f.OwnedByTeam,
				Prestige:       f.GymPoints,
				GuardSpeciesID: f.GuardSpeciesID,
				LastModified:   f.LastModifiedMs / 1000,
			})
		}
	}
	return seen
}

// finishVisit commits the new position and visit accounting. A long run of
// empty responses means the account or its exit is shadow-limited.
func (w *Worker) finishVisit(p geo.Point, seen int) {
	w.mu.Lock()
	w.point = p
	w.lastVisit = time.Now()
	w.visits++
	w.totalSeen += seen
	w.malformed = 0
	w.errorCode = CodeIdle
	if seen == 0 {
		w.emptyVisits++
	} else {
		w.emptyVisits = 0
	}
	stale := w.emptyVisits > maxEmptyVisits
	proxyURL := w.proxyURL
	w.mu.Unlock()

	// Empty responses count against the exit too: a dead circuit looks
	// like a string of visits that see nothing.
	if seen == 0 {
		w.rt.Proxies.RecordFailure(proxyURL)
	} else {
		w.rt.Proxies.RecordSuccess(proxyURL)
	}

	if stale {
		w.log.Warn("too many empty visits, rotating account and circuit")
		w.swapCircuit("empty visits")
		w.SwapAccount("empty visits")
	}
}

func (w *Worker) handleBanned() error {
	w.mu.Lock()
	if w.acct != nil {
		w.acct.Banned = true
	}
	name := ""
	if w.acct != nil {
		name = w.acct.Username
	}
	w.mu.Unlock()
	w.setErrorCode(CodeBanned)
	w.log.Warn("account banned", "account", name)
	w.SwapAccount("banned")
	return game.ErrBannedAccount
}

func (w *Worker) handleCaptcha(url string) error {
	w.mu.Lock()
	old := w.acct
	w.mu.Unlock()
	if old == nil {
		return ErrWorkerKilled
	}
	old.CaptchaURL = url
	w.setErrorCode(CodeCaptcha)
	w.log.Warn("account got a captcha", "account", old.Username)

	replacement := w.rt.Accounts.Extra.PopClean()
	w.mu.Lock()
	w.acct = replacement
	w.loggedIn = false
	w.lastSwap = time.Now()
	w.client = w.rt.NewClient()
	if w.proxyURL != "" {
		w.client.SetProxy(w.proxyURL)
	}
	w.mu.Unlock()

	w.rt.Accounts.Captcha.Push(old)
	if replacement == nil {
		w.setErrorCode(CodeNoAccounts)
		w.Kill()
		return ErrWorkerKilled
	}
	return game.ErrNotLoggedIn
}

// SwapAccount benches the current account and takes a spare. Swaps are
// rate-limited so one flapping worker cannot drain the pool.
func (w *Worker) SwapAccount(reason string) {
	w.mu.Lock()
	if time.Since(w.lastSwap) < swapCooldown {
		w.mu.Unlock()
		return
	}
	old := w.acct
	w.mu.Unlock()

	replacement := w.rt.Accounts.Extra.PopClean()
	if replacement == nil {
		w.setErrorCode(CodeNoAccounts)
		w.log.Error("no spare accounts left")
		return
	}

	w.mu.Lock()
	w.acct = replacement
	w.loggedIn = false
	w.emptyVisits = 0
	w.lastSwap = time.Now()
	w.client = w.rt.NewClient()
	if w.proxyURL != "" {
		w.client.SetProxy(w.proxyURL)
	}
	w.mu.Unlock()

	if old != nil {
		w.rt.Accounts.Extra.Push(old)
	}
	w.log.Info("swapped account", "reason", reason, "account", replacement.Username)
}

// restartClient discards the session after repeated malformed replies and
// forces a fresh login on the next visit.
func (w *Worker) restartClient() {
	w.log.Warn("restarting client after malformed responses")
	w.mu.Lock()
	w.client = w.rt.NewClient()
	w.loggedIn = false
	w.malformed = 0
	if w.proxyURL != "" {
		w.client.SetProxy(w.proxyURL)
	}
	w.mu.Unlock()
}

func (w *Worker) swapCircuit(reason string) {
	w.mu.Lock()
	url := w.proxyURL
	w.mu.Unlock()
	if url == "" {
		return
	}
	if err := w.rt.Proxies.SwapCircuit(url, reason); err != nil {
		w.log.Warn("circuit swap failed", "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
