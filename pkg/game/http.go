package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPClient implements Client against a JSON gateway that fronts the
// upstream API and handles request signing with the configured hash key.
type HTTPClient struct {
	baseURL string
	hashKey string

	// AppSimulation asks the gateway to replay the app's startup sequence
	// when logging in. Set before the first request.
	AppSimulation bool

	mu       sync.Mutex
	http     *http.Client
	token    string
	lat, lon float64
	alt      float64
}

// NewHTTPClient builds a client for one account session.
func NewHTTPClient(baseURL, hashKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		hashKey: hashKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type authRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Provider      string `json:"provider"`
	HashKey       string `json:"hash_key"`
	AppSimulation bool   `json:"app_simulation"`
}

type authResponse struct {
	Token string `json:"token"`
}

func (c *HTTPClient) SetAuthentication(ctx context.Context, username, password, provider string) error {
	body, err := json.Marshal(authRequest{
		Username:      username,
		Password:      password,
		Provider:      provider,
		HashKey:       c.hashKey,
		AppSimulation: c.AppSimulation,
	})
	if err != nil {
		return err
	}
	var auth authResponse
	if err := c.post(ctx, "/v1/auth", body, &auth); err != nil {
		return fmt.Errorf("%w: %s", ErrAuthFailed, err)
	}
	c.mu.Lock()
	c.token = auth.Token
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) SetPosition(lat, lon, alt float64) {
	c.mu.Lock()
	c.lat, c.lon, c.alt = lat, lon, alt
	c.mu.Unlock()
}

// SetProxy routes all traffic for this session through the given proxy URL.
// Invalid URLs leave the transport untouched.
func (c *HTTPClient) SetProxy(proxyURL string) {
	u, err := url.Parse(proxyURL)
	if err != nil || proxyURL == "" {
		return
	}
	c.mu.Lock()
	c.http = &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}
	c.mu.Unlock()
}

type rpcRequest struct {
	Token   string   `json:"token"`
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Alt     float64  `json:"alt"`
	CellIDs []uint64 `json:"cell_ids,omitempty"`
}

func (c *HTTPClient) GetMapObjects(ctx context.Context, lat, lon float64, cellIDs []uint64) (*Response, error) {
	return c.rpc(ctx, "/v1/map_objects", rpcRequest{
		Token: c.session(), Lat: lat, Lon: lon, Alt: c.altitude(), CellIDs: cellIDs,
	})
}

func (c *HTTPClient) CheckChallenge(ctx context.Context) (*Response, error) {
	lat, lon := c.position()
	return c.rpc(ctx, "/v1/check_challenge", rpcRequest{Token: c.session(), Lat: lat, Lon: lon})
}

func (c *HTTPClient) VerifyChallenge(ctx context.Context, token string) (bool, error) {
	body, err := json.Marshal(struct {
		Token     string `json:"token"`
		Challenge string `json:"challenge_token"`
	}{c.session(), token})
	if err != nil {
		return false, err
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/v1/verify_challenge", body, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (c *HTTPClient) rpc(ctx context.Context, path string, req rpcRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := c.post(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, out any) error {
	c.mu.Lock()
	client := c.http
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrAccessForbidden
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrNotLoggedIn
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode >= 500:
		return ErrServerBusy
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	return nil
}

func (c *HTTPClient) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *HTTPClient) position() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lat, c.lon
}

func (c *HTTPClient) altitude() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alt
}
