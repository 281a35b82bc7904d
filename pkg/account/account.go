// Package account manages scanning credentials: the device identity attached
// to each one, the pool of spares, and the parking lot for captcha'd logins.
package account

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"wildscan/pkg/config"
)

var deviceModels = []string{
	"iPhone8,1", "iPhone8,2", "iPhone8,4",
	"iPhone9,1", "iPhone9,2", "iPhone9,3", "iPhone9,4",
}

// Account is one scanning credential with its persistent device identity.
type Account struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Provider   string `json:"provider"`
	DeviceID   string `json:"device_id"`
	Model      string `json:"model"`
	Level      int    `json:"level"`
	Banned     bool   `json:"banned"`
	CaptchaURL string `json:"captcha_url,omitempty"`
	Created    int64  `json:"created"`
}

// New creates an account with a fresh device identity.
func New(cfg config.AccountConfig) *Account {
	provider := cfg.Provider
	if provider == "" {
		provider = "ptc"
	}
	return &Account{
		Username: cfg.Username,
		Password: cfg.Password,
		Provider: provider,
		DeviceID: uuid.NewString(),
		Model:    deviceModels[rand.Intn(len(deviceModels))],
		Created:  time.Now().Unix(),
	}
}

// Pool is a FIFO of parked accounts, safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
}

// Push appends an account to the tail.
func (p *Pool) Push(a *Account) {
	p.mu.Lock()
	p.accounts = append(p.accounts, a)
	p.mu.Unlock()
}

// Pop removes and returns the head, or nil when the pool is empty.
func (p *Pool) Pop() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return nil
	}
	a := p.accounts[0]
	p.accounts = p.accounts[1:]
	return a
}

// PopClean returns the first non-banned account, discarding banned ones.
func (p *Pool) PopClean() *Account {
	for {
		a := p.Pop()
		if a == nil || !a.Banned {
			return a
		}
	}
}

// Len returns the number of parked accounts.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Snapshot returns a copy of the pool contents.
func (p *Pool) Snapshot() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}
