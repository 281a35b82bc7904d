package status

import (
	"strings"
	"testing"
	"time"

	"wildscan/pkg/worker"
)

func TestDot(t *testing.T) {
	cases := []struct {
		stats worker.Stats
		want  string
	}{
		{worker.Stats{ErrorCode: worker.CodeBanned}, "X"},
		{worker.Stats{ErrorCode: worker.CodeIPBanned}, "X"},
		{worker.Stats{ErrorCode: worker.CodeCaptcha}, "C"},
		{worker.Stats{ErrorCode: worker.CodeThrottle}, "T"},
		{worker.Stats{ErrorCode: worker.CodeKilled}, "-"},
		{worker.Stats{Busy: true}, "~"},
		{worker.Stats{Visits: 0}, "o"},
		{worker.Stats{Visits: 3}, "."},
	}
	for _, c := range cases {
		if got := Dot(c.stats); got != c.want {
			t.Errorf("Dot(%+v) = %q, want %q", c.stats, got, c.want)
		}
	}
}

func TestRenderGrid(t *testing.T) {
	snap := Snapshot{
		GridCols: 3,
		Workers: []worker.Stats{
			{Visits: 1}, {Visits: 1}, {Busy: true},
			{ErrorCode: worker.CodeBanned}, {Visits: 0},
		},
		Visits:      42,
		Seen:        107,
		SpawnsKnown: 12,
		StartedAt:   time.Now().Add(-time.Hour),
	}
	out := Render(snap, time.Now())

	if !strings.Contains(out, "..~\n") {
		t.Errorf("first grid row missing:\n%s", out)
	}
	if !strings.Contains(out, "Xo\n") {
		t.Errorf("partial last row missing:\n%s", out)
	}
	if !strings.Contains(out, "visits:    42") || !strings.Contains(out, "seen:      107") {
		t.Errorf("stats lines missing:\n%s", out)
	}
	if strings.Contains(out, "PAUSED") {
		t.Error("unpaused snapshot should not show the pause banner")
	}
}

func TestRenderPaused(t *testing.T) {
	out := Render(Snapshot{Paused: true, GridCols: 1}, time.Now())
	if !strings.Contains(out, "PAUSED") {
		t.Error("paused snapshot should show the pause banner")
	}
}
