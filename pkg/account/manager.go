package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"wildscan/pkg/config"
)

// Manager owns every account the scanner knows about: the ones assigned to
// workers, the spares, and the captcha'd ones waiting for a token.
type Manager struct {
	Extra   *Pool
	Captcha *Pool

	snapshotPath string
	log          *slog.Logger
}

type snapshot struct {
	Assigned []*Account `json:"assigned"`
	Extra    []*Account `json:"extra"`
	Captcha  []*Account `json:"captcha"`
}

// NewManager builds the pools. snapshotPath may be "" to disable persistence.
func NewManager(snapshotPath string, log *slog.Logger) *Manager {
	return &Manager{
		Extra:        &Pool{},
		Captcha:      &Pool{},
		snapshotPath: snapshotPath,
		log:          log.With("job", "accounts"),
	}
}

// Provision returns `needed` accounts for the workers and parks the rest in
// the extra pool. Accounts restored from a snapshot keep their device
// identity; fresh credentials get a new one.
func (m *Manager) Provision(cfgs []config.AccountConfig, needed int) ([]*Account, error) {
	known := m.loadSnapshot()

	var all []*Account
	for _, cfg := range cfgs {
		if a, ok := known[cfg.Username]; ok {
			a.Password = cfg.Password
			all = append(all, a)
			continue
		}
		all = append(all, New(cfg))
	}
	if len(all) < needed {
		return nil, fmt.Errorf("need %d accounts, have %d", needed, len(all))
	}

	// Banned accounts go to the back so they are not assigned first.
	var clean, banned []*Account
	for _, a := range all {
		if a.Banned {
			banned = append(banned, a)
		} else {
			clean = append(clean, a)
		}
	}
	all = append(clean, banned...)
	if len(clean) < needed {
		return nil, fmt.Errorf("need %d usable accounts, only %d are not banned", needed, len(clean))
	}

	assigned := all[:needed]
	for _, a := range all[needed:] {
		m.Extra.Push(a)
	}
	return assigned, nil
}

// loadSnapshot returns previously saved accounts keyed by username. A missing
// or unreadable snapshot is not fatal.
func (m *Manager) loadSnapshot() map[string]*Account {
	known := make(map[string]*Account)
	if m.snapshotPath == "" {
		return known
	}
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("could not read account snapshot", "error", err)
		}
		return known
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.log.Warn("could not decode account snapshot", "error", err)
		return known
	}
	for _, list := range [][]*Account{snap.Assigned, snap.Extra, snap.Captcha} {
		for _, a := range list {
			known[a.Username] = a
		}
	}
	return known
}

// SaveSnapshot persists all accounts so device identities and ban state
// survive restarts.
func (m *Manager) SaveSnapshot(assigned []*Account) error {
	if m.snapshotPath == "" {
		return nil
	}
	snap := snapshot{
		Assigned: assigned,
		Extra:    m.Extra.Snapshot(),
		Captcha:  m.Captcha.Snapshot(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.snapshotPath, data, 0o600)
}
