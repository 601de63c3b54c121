// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package location resolves free-form place names into confirmed locations.
//
// Resolution is two-phase. Propose geocodes a query through OpenCage and
// returns a Candidate holding the ranked matches; nothing is trusted yet.
// Confirm turns one explicitly chosen match into a profile.Location, which
// the caller stores. Planning runs read the stored location through
// Provider and never geocode.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	// DefaultGeocodeURL is the OpenCage forward geocoding endpoint.
	DefaultGeocodeURL = "https://api.opencagedata.com/geocode/v1/json"
	// DefaultTimeout bounds one geocoding request.
	DefaultTimeout = 15 * time.Second
	// MaxResults is how many matches a Candidate keeps.
	MaxResults = 5
	// ConfidentScore is the OpenCage confidence (1-10) above which a single
	// top match is not considered ambiguous.
	ConfidentScore = 8

	maxResponseSize = 1 << 20
)

var (
	// ErrEmptyQuery indicates a blank location query.
	ErrEmptyQuery = errors.New("location query is empty")
	// ErrNoMatch indicates the geocoder found nothing.
	ErrNoMatch = errors.New("no matching locations found")
	// ErrNoAPIKey indicates OPENCAGE_API_KEY is not configured.
	ErrNoAPIKey = errors.New("OpenCage API key not configured (set OPENCAGE_API_KEY)")
	// ErrInvalidChoice indicates Confirm was given an out-of-range index.
	ErrInvalidChoice = errors.New("invalid location choice")
)

// APIError is a non-200 geocoder response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geocoder error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Match is one geocoding result.
type Match struct {
	Location   profile.Location
	Confidence int
}

// Candidate is the unconfirmed outcome of Propose.
type Candidate struct {
	Query     string
	Matches   []Match
	Ambiguous bool
}

// Best returns the top-ranked match.
func (c Candidate) Best() Match {
	return c.Matches[0]
}

// Resolver geocodes queries, memoizing proposals for its lifetime so one
// session geocodes a given place once.
type Resolver struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu   sync.Mutex
	memo map[string]Candidate
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBaseURL overrides the geocoding endpoint.
func WithBaseURL(u string) Option {
	return func(r *Resolver) {
		if u != "" {
			r.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// NewResolver creates a Resolver for the given OpenCage key.
func NewResolver(apiKey string, opts ...Option) *Resolver {
	r := &Resolver{
		apiKey:     apiKey,
		baseURL:    DefaultGeocodeURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		now:        time.Now,
		memo:       make(map[string]Candidate),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Propose geocodes query and returns ranked matches for confirmation.
func (r *Resolver) Propose(ctx context.Context, query string) (Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Candidate{}, ErrEmptyQuery
	}
	if r.apiKey == "" {
		return Candidate{}, ErrNoAPIKey
	}

	key := util.Fold(strings.Join(strings.Fields(query), " "))
	r.mu.Lock()
	if c, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	matches, err := r.geocode(ctx, query)
	if err != nil {
		return Candidate{}, err
	}
	if len(matches) == 0 {
		return Candidate{}, ErrNoMatch
	}

	c := Candidate{Query: query, Matches: matches, Ambiguous: isAmbiguous(matches)}
	r.mu.Lock()
	r.memo[key] = c
	r.mu.Unlock()
	return c, nil
}

// Confirm accepts match index of c as ground truth.
func (r *Resolver) Confirm(c Candidate, index int) (profile.Location, error) {
	if index < 0 || index >= len(c.Matches) {
		return profile.Location{}, fmt.Errorf("%w: %d of %d", ErrInvalidChoice, index+1, len(c.Matches))
	}
	loc := c.Matches[index].Location
	loc.ConfirmedAt = r.now().UTC()
	return loc, nil
}

// isAmbiguous reports whether a user must choose between matches: several
// results and either a weak top match or a tie at the top.
func isAmbiguous(matches []Match) bool {
	if len(matches) < 2 {
		return false
	}
	return matches[0].Confidence < ConfidentScore || matches[0].Confidence == matches[1].Confidence
}

// =============================================================================
// OPENCAGE WIRE FORMAT
// =============================================================================

type geocodeResponse struct {
	Results []geocodeResult `json:"results"`
	Status  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

type geometry struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geocodeResult struct {
	Formatted   string         `json:"formatted"`
	Confidence  int            `json:"confidence"`
	Components  map[string]any `json:"components"`
	Geometry    *geometry      `json:"geometry"`
	Annotations struct {
		Timezone struct {
			Name string `json:"name"`
		} `json:"timezone"`
	} `json:"annotations"`
}

func (r *Resolver) geocode(ctx context.Context, query string) ([]Match, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("key", r.apiKey)
	params.Set("limit", fmt.Sprint(MaxResults))
	params.Set("no_annotations", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return nil, err
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to parse geocoder response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Status.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	matches := make([]Match, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Geometry == nil {
			continue
		}
		matches = append(matches, Match{
			Location: profile.Location{
				Name:      strings.TrimSpace(res.Formatted),
				City:      pickComponent(res.Components, "city", "town", "village", "hamlet", "locality"),
				Region:    pickComponent(res.Components, "state", "region", "county"),
				Country:   pickComponent(res.Components, "country"),
				Latitude:  res.Geometry.Lat,
				Longitude: res.Geometry.Lng,
				Timezone:  strings.TrimSpace(res.Annotations.Timezone.Name),
			},
			Confidence: res.Confidence,
		})
		if len(matches) == MaxResults {
			break
		}
	}
	return matches, nil
}

// pickComponent returns the first non-empty component among keys.
func pickComponent(components map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := components[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
