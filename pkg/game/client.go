// Package game defines the contract with the upstream geospatial API. The
// engine only ever talks to the Client interface; the real wrapped client
// lives outside this repository.
package game

import (
	"context"
	"errors"
)

// Errors surfaced by the client, mapped onto worker states by the retry
// envelope.
var (
	ErrAccessForbidden = errors.New("access forbidden from this address")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrServerBusy      = errors.New("server busy or offline")
	ErrThrottled       = errors.New("request throttled")

	// ErrBannedAccount corresponds to response status code 3.
	ErrBannedAccount = errors.New("account banned")
	// ErrMalformedResponse is raised when the response shape is unusable.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusBanned is the response status code signalling a banned account.
const StatusBanned = 3

// Client is the upstream API surface the core consumes.
type Client interface {
	SetAuthentication(ctx context.Context, username, password, provider string) error
	SetPosition(lat, lon, alt float64)
	SetProxy(proxyURL string)
	GetMapObjects(ctx context.Context, lat, lon float64, cellIDs []uint64) (*Response, error)
	CheckChallenge(ctx context.Context) (*Response, error)
	VerifyChallenge(ctx context.Context, token string) (bool, error)
}

// Response is the dict-shaped upstream reply.
type Response struct {
	StatusCode int
	Responses  *Responses
}

// Responses holds the per-operation payloads.
type Responses struct {
	GetMapObjects  *MapObjects
	CheckChallenge *Challenge
}

// MapObjects is the payload of a GET_MAP_OBJECTS request.
type MapObjects struct {
	Status   int
	MapCells []MapCell
}

// MapCell is one spatial cell of a map-objects response.
type MapCell struct {
	CurrentTimestampMs int64
	WildEncounters     []WildEncounter
	Forts              []FortData
}

// WildEncounter is a raw transient entity observation.
type WildEncounter struct {
	EncounterID      string
	SpawnPointID     string
	SpeciesID        int
	Lat              float64
	Lon              float64
	TimeTillHiddenMs int64
	LastModifiedMs   int64
}

// FortData is a raw landmark observation.
type FortData struct {
	ID             string
	Lat            float64
	Lon            float64
	Enabled        bool
	Type           int
	OwnedByTeam    int
	GymPoints      int
	GuardSpeciesID int
	LastModifiedMs int64
}

// FortTypePokestop marks forts that are pokestops rather than gyms; the
// scanner does not persist them.
const FortTypePokestop = 1

// Challenge is the payload of a CHECK_CHALLENGE response.
type Challenge struct {
	ChallengeURL string
}

// ChallengeURL returns the captcha URL carried by the response, or "" when
// no challenge is pending.
func (r *Response) ChallengeURL() string {
	if r == nil || r.Responses == nil || r.Responses.CheckChallenge == nil {
		return ""
	}
	return r.Responses.CheckChallenge.ChallengeURL
}
