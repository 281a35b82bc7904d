package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientAuthAndMapObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth":
			var req authRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("bad auth body: %v", err)
			}
			if req.Username != "u" || req.HashKey != "hk" {
				t.Errorf("unexpected auth request: %+v", req)
			}
			json.NewEncoder(w).Encode(authResponse{Token: "session-1"})
		case "/v1/map_objects":
			var req rpcRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("bad rpc body: %v", err)
			}
			if req.Token != "session-1" || len(req.CellIDs) != 2 {
				t.Errorf("unexpected rpc request: %+v", req)
			}
			json.NewEncoder(w).Encode(Response{
				StatusCode: 1,
				Responses: &Responses{GetMapObjects: &MapObjects{
					Status:   1,
					MapCells: []MapCell{{WildEncounters: []WildEncounter{{EncounterID: "e1", SpeciesID: 25}}}},
				}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "hk")
	ctx := context.Background()
	if err := c.SetAuthentication(ctx, "u", "pw", "ptc"); err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	c.SetPosition(40, -74, 350)

	resp, err := c.GetMapObjects(ctx, 40, -74, []uint64{1, 2})
	if err != nil {
		t.Fatalf("GetMapObjects failed: %v", err)
	}
	cells := resp.Responses.GetMapObjects.MapCells
	if len(cells) != 1 || cells[0].WildEncounters[0].SpeciesID != 25 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHTTPClientErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, ErrAccessForbidden},
		{http.StatusUnauthorized, ErrNotLoggedIn},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusBadGateway, ErrServerBusy},
		{http.StatusTeapot, ErrMalformedResponse},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		client := NewHTTPClient(srv.URL, "hk")
		_, err := client.GetMapObjects(context.Background(), 0, 0, nil)
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: expected %v, got %v", c.status, c.want, err)
		}
		srv.Close()
	}
}

func TestHTTPClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "hk")
	_, err := client.GetMapObjects(context.Background(), 0, 0, nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}
