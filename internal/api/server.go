// Package api exposes the engine state over HTTP for external viewers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"wildscan/pkg/status"
)

// Server serves read-only JSON snapshots of the engine.
type Server struct {
	authKey  string
	snapshot func() status.Snapshot
	log      *slog.Logger
	httpSrv  *http.Server
}

// New builds the server. With an empty authKey every request is admitted.
// The per-worker endpoint is only registered when mapWorkers is set.
func New(addr, authKey string, mapWorkers bool, snapshot func() status.Snapshot, log *slog.Logger) *Server {
	s := &Server{
		authKey:  authKey,
		snapshot: snapshot,
		log:      log.With("job", "api"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.auth(s.handleStatus))
	if mapWorkers {
		mux.HandleFunc("GET /api/workers", s.auth(s.handleWorkers))
	}
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("viewer listening", "addr", s.httpSrv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authKey != "" {
			key := r.Header.Get("X-Auth-Key")
			if key == "" {
				key = r.URL.Query().Get("key")
			}
			if key != s.authKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.snapshot())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.snapshot().Workers)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}
