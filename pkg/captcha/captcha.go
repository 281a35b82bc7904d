// Package captcha clears challenge-locked accounts so they can rejoin the
// spare pool.
package captcha

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wildscan/pkg/account"
)

// Solver turns a challenge URL into a response token.
type Solver interface {
	Solve(ctx context.Context, challengeURL string) (string, error)
}

// ErrNoSolver is returned by the manual solver; accounts stay parked until an
// operator handles them.
var ErrNoSolver = errors.New("no captcha solver configured")

// ManualSolver is the default: it never solves anything.
type ManualSolver struct{}

func (ManualSolver) Solve(context.Context, string) (string, error) {
	return "", ErrNoSolver
}

// Verifier submits a solved token for an account. Provided by the engine,
// which owns the API clients.
type Verifier func(ctx context.Context, a *account.Account, token string) error

// Service drains the captcha pool in the background.
type Service struct {
	solver   Solver
	verify   Verifier
	captchas *account.Pool
	extras   *account.Pool
	interval time.Duration
	log      *slog.Logger
}

// NewService wires a solver to the account pools.
func NewService(solver Solver, verify Verifier, captchas, extras *account.Pool, log *slog.Logger) *Service {
	return &Service{
		solver:   solver,
		verify:   verify,
		captchas: captchas,
		extras:   extras,
		interval: 10 * time.Second,
		log:      log.With("job", "captcha"),
	}
}

// Run loops until the context is done. With the manual solver it idles
// instead of thrashing the queue.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOne(ctx)
		}
	}
}

func (s *Service) drainOne(ctx context.Context) {
	a := s.captchas.Pop()
	if a == nil {
		return
	}
	if err := s.clear(ctx, a); err != nil {
		if !errors.Is(err, ErrNoSolver) {
			s.log.Warn("captcha not cleared", "account", a.Username, "error", err)
		}
		s.captchas.Push(a)
		return
	}
	s.log.Info("captcha cleared", "account", a.Username)
	a.CaptchaURL = ""
	s.extras.Push(a)
}

func (s *Service) clear(ctx context.Context, a *account.Account) error {
	token, err := s.solver.Solve(ctx, a.CaptchaURL)
	if err != nil {
		return err
	}
	return s.verify(ctx, a, token)
}
