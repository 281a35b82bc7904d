// Package status renders the terminal status screen. Rendering is pure so it
// can be tested without a terminal.
package status

import (
	"fmt"
	"strings"
	"time"

	"wildscan/pkg/worker"
)

// Snapshot is one point-in-time view of the whole engine.
type Snapshot struct {
	Workers      []worker.Stats `json:"workers"`
	GridCols     int            `json:"grid_cols"`
	Visits       int64          `json:"visits"`
	Seen         int64          `json:"seen"`
	Skipped      int64          `json:"skipped"`
	Redundant    int64          `json:"redundant"`
	Mysteries    int            `json:"mysteries"`
	SpawnsKnown  int            `json:"spawns_known"`
	CaptchaQueue int            `json:"captcha_queue"`
	ExtraQueue   int            `json:"extra_queue"`
	Paused       bool           `json:"paused"`
	SeenHistory  []int64        `json:"seen_history"`
	StartedAt    time.Time      `json:"started_at"`
}

// Dot returns the one-character state marker for a worker.
func Dot(s worker.Stats) string {
	if _, bad := worker.BadStatuses[s.ErrorCode]; bad {
		return "X"
	}
	switch s.ErrorCode {
	case worker.CodeCaptcha:
		return "C"
	case worker.CodeThrottle:
		return "T"
	case worker.CodeKilled:
		return "-"
	}
	if s.Busy {
		return "~"
	}
	if s.Visits == 0 {
		return "o"
	}
	return "."
}

// Render draws the full status screen.
func Render(snap Snapshot, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "wildscan | up %s", now.Sub(snap.StartedAt).Round(time.Second))
	if snap.Paused {
		b.WriteString(" | PAUSED: captcha backlog")
	}
	b.WriteString("\n\n")

	cols := snap.GridCols
	if cols < 1 {
		cols = 1
	}
	for i, w := range snap.Workers {
		b.WriteString(Dot(w))
		if (i+1)%cols == 0 {
			b.WriteByte('\n')
		}
	}
	if len(snap.Workers)%cols != 0 {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "visits:    %d\n", snap.Visits)
	fmt.Fprintf(&b, "seen:      %d\n", snap.Seen)
	fmt.Fprintf(&b, "skipped:   %d\n", snap.Skipped)
	fmt.Fprintf(&b, "redundant: %d\n", snap.Redundant)
	fmt.Fprintf(&b, "spawns:    %d known, %d mysteries\n", snap.SpawnsKnown, snap.Mysteries)
	fmt.Fprintf(&b, "accounts:  %d spare, %d captcha'd\n", snap.ExtraQueue, snap.CaptchaQueue)

	if len(snap.SeenHistory) > 0 {
		b.WriteString("history:  ")
		for _, n := range snap.SeenHistory {
			fmt.Fprintf(&b, " %d", n)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
