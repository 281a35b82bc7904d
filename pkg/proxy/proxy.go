// Package proxy rotates workers across outbound proxies and requests fresh
// circuits when an exit gets slow or banned.
package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// swapInterval rate-limits circuit swaps per proxy.
	swapInterval = 180 * time.Second

	latencySamples    = 30
	latencyMinSamples = 10
	latencyThreshold  = 10 * time.Second

	// failureLimit is the consecutive-failure run that marks an exit dead.
	failureLimit = 20
)

// Dialer is injectable for tests.
type Dialer func(network, address string) (net.Conn, error)

// Rotator hands out proxies round-robin and talks to their control sockets.
type Rotator struct {
	log  *slog.Logger
	dial Dialer

	mu           sync.Mutex
	proxies      []string
	controlSocks map[string]string
	next         int
	lastSwap     map[string]time.Time
	windows      map[string]*LatencyWindow
	failures     map[string]int
}

// NewRotator creates a rotator. An empty proxy list disables it.
func NewRotator(proxies []string, controlSocks map[string]string, log *slog.Logger) *Rotator {
	return &Rotator{
		log:          log.With("job", "proxy"),
		dial:         net.Dial,
		proxies:      proxies,
		controlSocks: controlSocks,
		lastSwap:     make(map[string]time.Time),
		windows:      make(map[string]*LatencyWindow),
		failures:     make(map[string]int),
	}
}

// Enabled reports whether any proxies are configured.
func (r *Rotator) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies) > 0
}

// Next returns the next proxy URL, or "" when disabled.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return ""
	}
	p := r.proxies[r.next%len(r.proxies)]
	r.next++
	return p
}

// SwapCircuit asks the proxy's control socket for a fresh circuit. Requests
// within the rate-limit window are dropped silently so a burst of banned
// workers cannot thrash the circuit.
func (r *Rotator) SwapCircuit(proxyURL, reason string) error {
	r.mu.Lock()
	sock, ok := r.controlSocks[proxyURL]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("no control socket for proxy %s", proxyURL)
	}
	if time.Since(r.lastSwap[proxyURL]) < swapInterval {
		r.mu.Unlock()
		return nil
	}
	r.lastSwap[proxyURL] = time.Now()
	r.failures[proxyURL] = 0
	if w := r.windows[proxyURL]; w != nil {
		w.Reset()
	}
	dial := r.dial
	r.mu.Unlock()

	network := "tcp"
	if strings.HasPrefix(sock, "/") {
		network = "unix"
	}
	conn, err := dial(network, sock)
	if err != nil {
		return fmt.Errorf("dial control socket %s: %w", sock, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "AUTHENTICATE \"\"\r\nSIGNAL NEWNYM\r\nQUIT\r\n"); err != nil {
		return fmt.Errorf("signal new circuit: %w", err)
	}
	r.log.Info("requested new circuit", "proxy", proxyURL, "reason", reason)
	return nil
}

// RecordLatency adds one request latency sample for the proxy.
func (r *Rotator) RecordLatency(proxyURL string, d time.Duration) {
	if proxyURL == "" {
		return
	}
	r.window(proxyURL).Add(d)
}

// Slow reports whether the proxy's rolling latency average is past the
// threshold, the sign of a stuck circuit.
func (r *Rotator) Slow(proxyURL string) bool {
	if proxyURL == "" {
		return false
	}
	return r.window(proxyURL).Slow()
}

// RecordFailure counts one failed or empty request against the proxy and
// reports whether the consecutive run is over the limit.
func (r *Rotator) RecordFailure(proxyURL string) bool {
	if proxyURL == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[proxyURL]++
	return r.failures[proxyURL] > failureLimit
}

// RecordSuccess ends the proxy's consecutive-failure run.
func (r *Rotator) RecordSuccess(proxyURL string) {
	if proxyURL == "" {
		return
	}
	r.mu.Lock()
	r.failures[proxyURL] = 0
	r.mu.Unlock()
}

func (r *Rotator) window(proxyURL string) *LatencyWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[proxyURL]
	if !ok {
		w = &LatencyWindow{}
		r.windows[proxyURL] = w
	}
	return w
}

// LatencyWindow tracks recent request latencies for one proxy. When the
// average over enough samples climbs past the threshold, the circuit is
// considered stuck.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
}

// Add records one request latency, keeping the newest samples only.
func (w *LatencyWindow) Add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, d)
	if len(w.samples) > latencySamples {
		w.samples = w.samples[len(w.samples)-latencySamples:]
	}
}

// Average returns the mean latency and the sample count.
func (w *LatencyWindow) Average() (time.Duration, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, d := range w.samples {
		total += d
	}
	return total / time.Duration(len(w.samples)), len(w.samples)
}

// Slow reports whether enough samples exist and their average exceeds the
// threshold.
func (w *LatencyWindow) Slow() bool {
	avg, n := w.Average()
	return n >= latencyMinSamples && avg > latencyThreshold
}

// Reset clears the window, typically after a circuit swap.
func (w *LatencyWindow) Reset() {
	w.mu.Lock()
	w.samples = w.samples[:0]
	w.mu.Unlock()
}
