package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"wildscan/pkg/account"
	"wildscan/pkg/game"
	"wildscan/pkg/geo"
)

// Error codes surfaced on the status screen.
const (
	CodeIdle       = ""
	CodeBanned     = "BANNED"
	CodeIPBanned   = "IP BANNED"
	CodeCaptcha    = "CAPTCHA"
	CodeThrottle   = "THROTTLE"
	CodeLoginFail  = "FAILED LOGIN"
	CodeMaxRetries = "MAX RETRIES"
	CodeMalformed  = "MALFORMED RESPONSE"
	CodeServerBusy = "SERVER OFFLINE"
	CodeBenching   = "BENCHING"
	CodeNoAccounts = "NO ACCOUNTS"
	CodeKilled     = "KILLED"
)

// BadStatuses render as a failure marker on the status grid.
var BadStatuses = map[string]struct{}{
	CodeBanned:     {},
	CodeIPBanned:   {},
	CodeLoginFail:  {},
	CodeMaxRetries: {},
	CodeMalformed:  {},
	CodeServerBusy: {},
	CodeNoAccounts: {},
}

const (
	// minElapsed is the shortest gap between visits that allows a speed
	// estimate at all.
	minElapsed = 10 * time.Second

	// coarseBuffer widens the speed limit for the pre-lock screening pass;
	// the post-lock check applies the limit exactly.
	coarseBuffer = 1.18

	// swapCooldown keeps a worker from churning through accounts.
	swapCooldown = 10 * time.Second

	// maxEmptyVisits before the account and circuit are considered stale.
	maxEmptyVisits = 20
)

// Worker owns one account and one position.
type Worker struct {
	ID  int
	rt  *Runtime
	log *slog.Logger

	busy atomic.Bool

	mu          sync.Mutex
	acct        *account.Account
	client      game.Client
	loggedIn    bool
	proxyURL    string
	point       geo.Point
	lastVisit   time.Time
	lastSwap    time.Time
	errorCode   string
	visits      int
	totalSeen   int
	emptyVisits int
	malformed   int

	killed atomic.Bool
}

// New creates a worker at the given start point.
func New(id int, rt *Runtime, acct *account.Account, start geo.Point, log *slog.Logger) *Worker {
	w := &Worker{
		ID:     id,
		rt:     rt,
		log:    log.With("worker", id),
		acct:   acct,
		client: rt.NewClient(),
	}
	w.point = start
	if rt.Proxies.Enabled() {
		w.proxyURL = rt.Proxies.Next()
		w.client.SetProxy(w.proxyURL)
	}
	return w
}

// TryLock claims the worker for one visit. Non-blocking.
func (w *Worker) TryLock() bool {
	return w.busy.CompareAndSwap(false, true)
}

// Unlock releases the worker.
func (w *Worker) Unlock() {
	w.busy.Store(false)
}

// Busy reports whether a visit is in flight.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

// Kill permanently retires the worker.
func (w *Worker) Kill() {
	w.killed.Store(true)
	w.setErrorCode(CodeKilled)
}

// Killed reports whether the worker has been retired.
func (w *Worker) Killed() bool {
	return w.killed.Load()
}

// FastSpeed estimates travel speed to p in mph without claiming the worker.
// A worker that has never moved reports a token speed of 1. Visits spaced
// closer than the minimum gap cannot be estimated and report ok=false.
func (w *Worker) FastSpeed(p geo.Point, now time.Time) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.speedLocked(p, now)
}

// AccurateSpeed re-checks the speed after the worker is locked, when no
// concurrent visit can move the reference point anymore.
func (w *Worker) AccurateSpeed(p geo.Point, now time.Time) (float64, bool) {
	return w.FastSpeed(p, now)
}

func (w *Worker) speedLocked(p geo.Point, now time.Time) (float64, bool) {
	if w.lastVisit.IsZero() {
		return 1, true
	}
	elapsed := now.Sub(w.lastVisit)
	if elapsed < minElapsed {
		return 0, false
	}
	miles := geo.Miles(w.point, p)
	return miles / elapsed.Hours(), true
}

// SpeedLimit returns the configured cap in mph.
func (w *Worker) SpeedLimit() float64 {
	return w.rt.Cfg.Scan.SpeedLimit
}

// CoarseLimit is the widened cap used for pre-lock screening.
func (w *Worker) CoarseLimit() float64 {
	return w.rt.Cfg.Scan.SpeedLimit * coarseBuffer
}

func (w *Worker) setErrorCode(code string) {
	w.mu.Lock()
	w.errorCode = code
	w.mu.Unlock()
}

// ErrorCode returns the current status code for display.
func (w *Worker) ErrorCode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorCode
}

// Account returns the account currently assigned to the worker.
func (w *Worker) Account() *account.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acct
}

// Username returns the current account name.
func (w *Worker) Username() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.acct == nil {
		return ""
	}
	return w.acct.Username
}

// Stats is a point-in-time snapshot for the status screen and viewer.
type Stats struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Visits    int       `json:"visits"`
	Seen      int       `json:"seen"`
	ErrorCode string    `json:"error_code"`
	Busy      bool      `json:"busy"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	LastVisit time.Time `json:"last_visit"`
}

// Snapshot returns the worker's current stats.
func (w *Worker) Snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		ID:        w.ID,
		Visits:    w.visits,
		Seen:      w.totalSeen,
		ErrorCode: w.errorCode,
		Busy:      w.busy.Load(),
		Lat:       w.point.Lat,
		Lon:       w.point.Lon,
		LastVisit: w.lastVisit,
	}
	if w.acct != nil {
		s.Username = w.acct.Username
	}
	return s
}

// Visits returns the total completed visits.
func (w *Worker) Visits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visits
}

// Seen returns the total entities observed.
func (w *Worker) Seen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalSeen
}
