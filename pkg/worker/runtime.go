// Package worker drives one scanning account: speed-limited movement, the
// visit retry envelope, and account or circuit swaps when the upstream
// pushes back.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"wildscan/pkg/account"
	"wildscan/pkg/cache"
	"wildscan/pkg/catalog"
	"wildscan/pkg/config"
	"wildscan/pkg/game"
	"wildscan/pkg/notify"
	"wildscan/pkg/pipeline"
	"wildscan/pkg/proxy"
)

// Runtime is the shared state every worker operates against.
type Runtime struct {
	Cfg       *config.Config
	Pipeline  *pipeline.Pipeline
	Catalog   *catalog.Catalog
	Sightings *cache.SightingCache
	Notifier  *notify.Notifier
	Accounts  *account.Manager
	Proxies   *proxy.Rotator
	Cells     *game.CellTable

	// NewClient builds an upstream client for one account.
	NewClient func() game.Client

	// LoginSem bounds concurrent login handshakes.
	LoginSem *semaphore.Weighted

	// NetSem bounds concurrent upstream requests across all workers.
	NetSem *semaphore.Weighted

	loginGate sync.Mutex
	lastLogin time.Time
}

// NewRuntime wires the shared state.
func NewRuntime(cfg *config.Config) *Runtime {
	threads := cfg.Scan.NetworkThreads
	if threads < 1 {
		threads = 1
	}
	return &Runtime{
		Cfg:      cfg,
		LoginSem: semaphore.NewWeighted(int64(cfg.Scan.SimultaneousLogins)),
		NetSem:   semaphore.NewWeighted(int64(threads)),
	}
}

// WaitLoginGate spaces logins a few seconds apart across all workers, on top
// of the concurrency bound.
func (rt *Runtime) WaitLoginGate(ctx context.Context) error {
	rt.loginGate.Lock()
	defer rt.loginGate.Unlock()

	gap := time.Duration(3+rand.Float64()*3) * time.Second
	wait := time.Until(rt.lastLogin.Add(gap))
	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	rt.lastLogin = time.Now()
	return nil
}
