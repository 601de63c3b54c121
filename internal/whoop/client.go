// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package whoop reads recovery, sleep and strain data from the WHOOP
// developer API and runs the OAuth flow that connects an account.
package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	// DefaultAPIURL is the WHOOP developer API root.
	DefaultAPIURL = "https://api.prod.whoop.com/developer"
	// DefaultAuthURL is the OAuth authorization endpoint.
	DefaultAuthURL = "https://api.prod.whoop.com/oauth/oauth2/auth"
	// DefaultTokenURL is the OAuth token endpoint.
	DefaultTokenURL = "https://api.prod.whoop.com/oauth/oauth2/token"
	// DefaultScope requests offline access plus every read scope.
	DefaultScope = "offline read:recovery read:cycles read:sleep read:workout read:profile read:body_measurement"

	// RefreshThreshold refreshes tokens this close to expiry before a call.
	RefreshThreshold = 60 * time.Second

	maxResponseSize = 1 << 20
	recentWorkouts  = 3
)

var (
	// ErrNoRefreshToken means the access token expired and cannot be renewed.
	ErrNoRefreshToken = errors.New("whoop: no refresh token")

	// ErrNotConnected means no WHOOP account is stored in the profile.
	ErrNotConnected = errors.New("whoop: account not connected (run: daypilot whoop connect)")

	errNotFound = errors.New("whoop: not found")
)

// APIError is a non-success API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whoop API error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("whoop API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// OAuthConfig identifies the registered WHOOP application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectHost string
	RedirectPort int
	Scope        string
}

func (o OAuthConfig) withDefaults() OAuthConfig {
	if o.AuthURL == "" {
		o.AuthURL = DefaultAuthURL
	}
	if o.TokenURL == "" {
		o.TokenURL = DefaultTokenURL
	}
	if o.RedirectHost == "" {
		o.RedirectHost = "127.0.0.1"
	}
	if o.RedirectPort == 0 {
		o.RedirectPort = 8765
	}
	if o.Scope == "" {
		o.Scope = DefaultScope
	}
	return o
}

// RedirectURI is the loopback callback registered with WHOOP.
func (o OAuthConfig) RedirectURI() string {
	o = o.withDefaults()
	return fmt.Sprintf("http://%s:%d/callback", o.RedirectHost, o.RedirectPort)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the WHOOP API on behalf of one connected account. It owns a
// private copy of the credential; refreshed tokens are reported through
// Credential and never written anywhere by the client itself.
type Client struct {
	baseURL    string
	oauth      OAuthConfig
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	cred    profile.Credential
	changed bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client for cred.
func NewClient(cred profile.Credential, oauth OAuthConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultAPIURL,
		oauth:      oauth.withDefaults(),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		now:        time.Now,
		cred:       cred,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credential returns the current credential and whether it differs from
// the one the client was created with.
func (c *Client) Credential() (profile.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred, c.changed
}

// Snapshot fetches the latest cycle with its recovery and sleep, plus the
// most recent workouts. Unscored parts are left nil.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	var cycles page[Cycle]
	if err := c.getJSON(ctx, "/v2/cycle", url.Values{"limit": {"1"}}, &cycles); err != nil {
		return Snapshot{}, fmt.Errorf("cycle: %w", err)
	}
	if len(cycles.Records) > 0 {
		cycle := cycles.Records[0]
		snap.Cycle = &cycle
		id := strconv.FormatInt(cycle.ID, 10)

		var rec Recovery
		switch err := c.getJSON(ctx, "/v2/cycle/"+id+"/recovery", nil, &rec); {
		case err == nil:
			snap.Recovery = &rec
		case !errors.Is(err, errNotFound):
			return Snapshot{}, fmt.Errorf("recovery: %w", err)
		}

		var sleep Sleep
		switch err := c.getJSON(ctx, "/v2/cycle/"+id+"/sleep", nil, &sleep); {
		case err == nil:
			snap.Sleep = &sleep
		case !errors.Is(err, errNotFound):
			return Snapshot{}, fmt.Errorf("sleep: %w", err)
		}
	}

	var workouts page[Workout]
	if err := c.getJSON(ctx, "/v2/activity/workout", url.Values{"limit": {strconv.Itoa(recentWorkouts)}}, &workouts); err != nil {
		return Snapshot{}, fmt.Errorf("workouts: %w", err)
	}
	snap.Workouts = workouts.Records

	c.mu.Lock()
	c.cred.LastSyncAt = c.now()
	c.changed = true
	c.mu.Unlock()
	return snap, nil
}

// getJSON performs an authorized GET, refreshing the token before the call
// when it is about to expire and once more if the API answers 401.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.ensureFresh(ctx); err != nil {
		return err
	}

	status, body, err := c.do(ctx, path, params)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		status, body, err = c.do(ctx, path, params)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return fmt.Errorf("%w: token rejected after refresh", providers.ErrUnauthorized)
		}
	}

	switch {
	case status == http.StatusNotFound:
		return errNotFound
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", providers.ErrUnauthorized, apiMessage(body))
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return providers.Permanent(&APIError{StatusCode: status, Message: apiMessage(body)})
	case status != http.StatusOK:
		return &APIError{StatusCode: status, Message: apiMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return providers.Permanent(fmt.Errorf("failed to parse %s: %w", path, err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) (int, []byte, error) {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.Lock()
	req.Header.Set("Authorization", authHeader(c.cred))
	c.mu.Unlock()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("whoop request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func authHeader(cred profile.Credential) string {
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return util.TitleWord(tokenType) + " " + cred.AccessToken
}

func apiMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		return e.Error
	}
	return util.TruncateWidth(strings.TrimSpace(string(body)), 200)
}

// =============================================================================
// TOKEN REFRESH
// =============================================================================

func (c *Client) ensureFresh(ctx context.Context) error {
	c.mu.Lock()
	expiring := c.cred.ExpiresWithin(c.now(), RefreshThreshold)
	c.mu.Unlock()
	if !expiring {
		return nil
	}
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.cred.RefreshToken
	c.mu.Unlock()
	if refreshToken == "" {
		return fmt.Errorf("%w: %w", providers.ErrUnauthorized, ErrNoRefreshToken)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
		"scope":         {"offline"},
	}
	tok, err := postToken(ctx, c.httpClient, c.oauth.TokenURL, form, encodingForm, c.oauth)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return fmt.Errorf("%w: refresh rejected: %v", providers.ErrUnauthorized, err)
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = tok.apply(c.cred, c.now())
	c.changed = true
	return nil
}

// Token is an OAuth token endpoint reply.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// apply merges a token reply into cred. Providers may omit the refresh
// token on refresh, in which case the old one stays valid.
func (t Token) apply(cred profile.Credential, now time.Time) profile.Credential {
	cred.Provider = profile.ProviderWhoop
	cred.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		cred.RefreshToken = t.RefreshToken
	}
	if t.TokenType != "" {
		cred.TokenType = t.TokenType
	}
	if t.Scope != "" {
		cred.Scope = t.Scope
	}
	if t.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	} else {
		cred.ExpiresAt = time.Time{}
	}
	return cred
}
