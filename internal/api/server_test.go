package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"wildscan/pkg/status"
	"wildscan/pkg/worker"
)

func testServer(authKey string) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	snapshot := func() status.Snapshot {
		return status.Snapshot{
			GridCols: 2,
			Visits:   10,
			Workers: []worker.Stats{
				{ID: 0, Username: "a", Visits: 5},
				{ID: 1, Username: "b", Visits: 5},
			},
		}
	}
	return New("localhost:0", authKey, true, snapshot, log)
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer("")
	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap status.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if snap.Visits != 10 || len(snap.Workers) != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestWorkersEndpoint(t *testing.T) {
	s := testServer("")
	req := httptest.NewRequest("GET", "/api/workers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var workers []worker.Stats
	if err := json.NewDecoder(rec.Body).Decode(&workers); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(workers) != 2 || workers[1].Username != "b" {
		t.Errorf("unexpected workers: %+v", workers)
	}
}

func TestWorkersEndpointDisabled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New("localhost:0", "", false, func() status.Snapshot { return status.Snapshot{} }, log)

	req := httptest.NewRequest("GET", "/api/workers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Errorf("disabled worker endpoint should 404, got %d", rec.Code)
	}
}

func TestAuthKey(t *testing.T) {
	s := testServer("secret")

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Errorf("missing key should be rejected, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("X-Auth-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("valid header key should pass, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/status?key=secret", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("valid query key should pass, got %d", rec.Code)
	}
}
