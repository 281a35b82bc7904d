// Package notify decides which sightings are worth announcing and pushes
// them through a pluggable sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wildscan/pkg/config"
	"wildscan/pkg/model"
)

const (
	dedupSize = 200

	rankingMin  = 20
	rankingMax  = 75
	rankingStep = 2

	// tuneWindow is how many recent notifications feed the frequency tuner.
	tuneWindow = 10
)

// Sender delivers one notification. Implementations wrap whatever channel
// the operator uses.
type Sender interface {
	Send(ctx context.Context, s model.Sighting, timeLeft time.Duration) error
}

// LogSender writes notifications to the log. The default when no external
// channel is configured.
type LogSender struct {
	Log *slog.Logger
}

func (l LogSender) Send(_ context.Context, s model.Sighting, timeLeft time.Duration) error {
	l.Log.Info("notification",
		"species", s.SpeciesID, "lat", s.Lat, "lon", s.Lon, "time_left", timeLeft)
	return nil
}

// Notifier applies the eligibility ladder and a per-encounter dedup window.
type Notifier struct {
	cfg    config.NotifyConfig
	sender Sender
	log    *slog.Logger

	mu          sync.Mutex
	seenOrder   []string
	seen        map[string]struct{}
	ranking     []int
	rankingSize int
	required    map[int]time.Duration
	recent      []time.Time
}

// New builds a notifier. With explicit ids configured, those species are
// always announced; otherwise eligibility follows the rarity ranking.
func New(cfg config.NotifyConfig, sender Sender, log *slog.Logger) *Notifier {
	n := &Notifier{
		cfg:         cfg,
		sender:      sender,
		log:         log.With("job", "notify"),
		seen:        make(map[string]struct{}),
		required:    make(map[int]time.Duration),
		rankingSize: clamp(cfg.Ranking, rankingMin, rankingMax),
	}
	for _, id := range cfg.IDs {
		n.required[id] = 0
	}
	return n
}

// SetRanking rebuilds the time-required ladder from a rarest-first species
// ranking. No-op when explicit ids are configured.
func (n *Notifier) SetRanking(ranking []int) {
	if len(n.cfg.IDs) > 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ranking = ranking
	n.rebuildLadder()
}

// rebuildLadder derives each eligible species' minimum remaining lifetime.
// The rarest few are always announced; the rest ramp linearly. Callers hold
// the lock.
func (n *Notifier) rebuildLadder() {
	n.required = make(map[int]time.Duration)
	size := n.rankingSize
	if size > len(n.ranking) {
		size = len(n.ranking)
	}
	minTime := time.Duration(n.cfg.MinTime)
	maxTime := time.Duration(n.cfg.MaxTime)
	for i, id := range n.ranking[:size] {
		if i < n.cfg.AlwaysNotify {
			n.required[id] = 0
			continue
		}
		span := size - n.cfg.AlwaysNotify
		fraction := float64(i-n.cfg.AlwaysNotify) / float64(span)
		n.required[id] = minTime + time.Duration(fraction*float64(maxTime))
	}
}

// Eligible reports whether the species can ever be announced.
func (n *Notifier) Eligible(speciesID int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.required[speciesID]
	return ok
}

// Notify announces a sighting if it passes the dedup window, the eligibility
// ladder, and the remaining-lifetime requirement. The returned string
// explains a refusal.
func (n *Notifier) Notify(ctx context.Context, s model.Sighting) (bool, string) {
	now := time.Now()
	timeLeft := time.Unix(s.ExpireTS, 0).Sub(now)

	n.mu.Lock()
	if _, dup := n.seen[s.EncounterID]; dup {
		n.mu.Unlock()
		return false, "already notified"
	}
	required, ok := n.required[s.SpeciesID]
	if !ok {
		n.mu.Unlock()
		return false, fmt.Sprintf("species %d not eligible", s.SpeciesID)
	}
	if timeLeft < required {
		n.mu.Unlock()
		return false, fmt.Sprintf("only %s left, need %s", timeLeft.Round(time.Second), required.Round(time.Second))
	}
	n.remember(s.EncounterID)
	n.mu.Unlock()

	if err := n.sender.Send(ctx, s, timeLeft); err != nil {
		n.log.Error("send failed", "error", err)
		n.mu.Lock()
		n.forget(s.EncounterID)
		n.mu.Unlock()
		return false, "send failed"
	}

	n.mu.Lock()
	n.recent = append(n.recent, now)
	if len(n.recent) > tuneWindow+1 {
		n.recent = n.recent[len(n.recent)-tuneWindow-1:]
	}
	n.tune()
	n.mu.Unlock()
	return true, ""
}

// remember adds an encounter to the dedup window, evicting the oldest entry
// past capacity. Callers hold the lock.
func (n *Notifier) remember(encounterID string) {
	n.seen[encounterID] = struct{}{}
	n.seenOrder = append(n.seenOrder, encounterID)
	if len(n.seenOrder) > dedupSize {
		delete(n.seen, n.seenOrder[0])
		n.seenOrder = n.seenOrder[1:]
	}
}

func (n *Notifier) forget(encounterID string) {
	delete(n.seen, encounterID)
	for i, id := range n.seenOrder {
		if id == encounterID {
			n.seenOrder = append(n.seenOrder[:i], n.seenOrder[i+1:]...)
			break
		}
	}
}

// tune nudges the ranking size toward the desired notification frequency.
// Callers hold the lock.
func (n *Notifier) tune() {
	if len(n.cfg.IDs) > 0 || len(n.recent) < 2 {
		return
	}
	var total time.Duration
	for i := 1; i < len(n.recent); i++ {
		total += n.recent[i].Sub(n.recent[i-1])
	}
	avg := total / time.Duration(len(n.recent)-1)

	low := time.Duration(n.cfg.DesiredFrequency[0])
	high := time.Duration(n.cfg.DesiredFrequency[1])
	switch {
	case avg < low && n.rankingSize > rankingMin:
		n.rankingSize = clamp(n.rankingSize-rankingStep, rankingMin, rankingMax)
		n.rebuildLadder()
		n.log.Info("notifying too often, narrowing ranking", "size", n.rankingSize)
	case avg > high && n.rankingSize < rankingMax:
		n.rankingSize = clamp(n.rankingSize+rankingStep, rankingMin, rankingMax)
		n.rebuildLadder()
		n.log.Info("notifying too rarely, widening ranking", "size", n.rankingSize)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
