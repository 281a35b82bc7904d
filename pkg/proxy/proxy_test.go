package proxy

import (
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextRoundRobin(t *testing.T) {
	r := NewRotator([]string{"socks5://a:9050", "socks5://b:9050"}, nil, testLogger())
	if !r.Enabled() {
		t.Fatal("rotator with proxies should be enabled")
	}
	got := []string{r.Next(), r.Next(), r.Next()}
	want := []string{"socks5://a:9050", "socks5://b:9050", "socks5://a:9050"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pick %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNextDisabled(t *testing.T) {
	r := NewRotator(nil, nil, testLogger())
	if r.Enabled() || r.Next() != "" {
		t.Error("empty rotator should be disabled")
	}
}

func TestSwapCircuitRateLimited(t *testing.T) {
	r := NewRotator(
		[]string{"socks5://a:9050"},
		map[string]string{"socks5://a:9050": "127.0.0.1:9051"},
		testLogger(),
	)
	var dials atomic.Int32
	r.dial = func(network, address string) (net.Conn, error) {
		dials.Add(1)
		client, server := net.Pipe()
		go func() {
			io.Copy(io.Discard, server)
			server.Close()
		}()
		return client, nil
	}

	if err := r.SwapCircuit("socks5://a:9050", "slow"); err != nil {
		t.Fatalf("first swap failed: %v", err)
	}
	// Second request inside the window is dropped without dialing.
	if err := r.SwapCircuit("socks5://a:9050", "slow"); err != nil {
		t.Fatalf("rate-limited swap should not error: %v", err)
	}
	if dials.Load() != 1 {
		t.Errorf("expected 1 dial, got %d", dials.Load())
	}

	if err := r.SwapCircuit("socks5://other:9050", "slow"); err == nil {
		t.Error("expected error for proxy without control socket")
	}
}

func TestRotatorTracksLatencyPerProxy(t *testing.T) {
	r := NewRotator([]string{"socks5://a:9050", "socks5://b:9050"}, nil, testLogger())

	for i := 0; i < latencyMinSamples; i++ {
		r.RecordLatency("socks5://a:9050", 20*time.Second)
		r.RecordLatency("socks5://b:9050", 100*time.Millisecond)
	}
	if !r.Slow("socks5://a:9050") {
		t.Error("slow samples should trip the proxy's own window")
	}
	if r.Slow("socks5://b:9050") {
		t.Error("a proxy must not trip on its neighbor's samples")
	}
	if r.Slow("") {
		t.Error("direct connections have no window")
	}
}

func TestRotatorFailureRun(t *testing.T) {
	r := NewRotator([]string{"socks5://a:9050"}, nil, testLogger())

	for i := 0; i < failureLimit; i++ {
		if r.RecordFailure("socks5://a:9050") {
			t.Fatalf("failure run tripped early at %d", i+1)
		}
	}
	if !r.RecordFailure("socks5://a:9050") {
		t.Error("run past the limit should trip")
	}
	r.RecordSuccess("socks5://a:9050")
	if r.RecordFailure("socks5://a:9050") {
		t.Error("a success should end the run")
	}
	if r.RecordFailure("") {
		t.Error("direct connections never trip")
	}
}

func TestSwapCircuitResetsProxyStats(t *testing.T) {
	r := NewRotator(
		[]string{"socks5://a:9050"},
		map[string]string{"socks5://a:9050": "127.0.0.1:9051"},
		testLogger(),
	)
	r.dial = func(network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			io.Copy(io.Discard, server)
			server.Close()
		}()
		return client, nil
	}

	for i := 0; i < latencyMinSamples; i++ {
		r.RecordLatency("socks5://a:9050", 20*time.Second)
	}
	for i := 0; i <= failureLimit; i++ {
		r.RecordFailure("socks5://a:9050")
	}

	if err := r.SwapCircuit("socks5://a:9050", "slow"); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	if r.Slow("socks5://a:9050") {
		t.Error("a fresh circuit should start with an empty latency window")
	}
	if r.RecordFailure("socks5://a:9050") {
		t.Error("a fresh circuit should start with a clean failure run")
	}
}

func TestLatencyWindow(t *testing.T) {
	var w LatencyWindow
	if w.Slow() {
		t.Error("empty window should not be slow")
	}

	// Not enough samples yet, however slow.
	for i := 0; i < latencyMinSamples-1; i++ {
		w.Add(20 * time.Second)
	}
	if w.Slow() {
		t.Error("window below minimum samples should not trip")
	}

	w.Add(20 * time.Second)
	if !w.Slow() {
		t.Error("window should trip with enough slow samples")
	}

	// Fast samples push the old slow ones out of the window.
	for i := 0; i < latencySamples; i++ {
		w.Add(100 * time.Millisecond)
	}
	if w.Slow() {
		t.Error("window should recover once slow samples age out")
	}
	if avg, n := w.Average(); n != latencySamples || avg != 100*time.Millisecond {
		t.Errorf("unexpected window state: avg=%v n=%d", avg, n)
	}

	w.Reset()
	if _, n := w.Average(); n != 0 {
		t.Error("reset should clear the window")
	}
}
