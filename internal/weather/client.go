// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	// DefaultForecastURL is the Open-Meteo forecast endpoint.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultCacheTTL matches the upstream model refresh cadence.
	DefaultCacheTTL = time.Hour

	maxResponseSize = 2 << 20
	hourLayout      = "2006-01-02T15:04"
	dayLayout       = "2006-01-02"
)

// ErrMalformed indicates a forecast response that could not be interpreted.
var ErrMalformed = errors.New("malformed forecast response")

// StatusError is a non-200 forecast response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forecast request failed: HTTP %d", e.StatusCode)
}

// Cache stores raw responses. storage.Store implements it.
type Cache interface {
	CacheGet(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error)
	CachePut(ctx context.Context, key string, body []byte) error
}

// Client fetches forecasts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	ttl        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the forecast endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithCache enables response caching for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewClient creates a forecast client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultForecastURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		ttl:        DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Forecast returns the report for the day containing now at lat/lng.
func (c *Client) Forecast(ctx context.Context, lat, lng float64, now time.Time) (Report, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	params.Set("hourly", "temperature_2m,precipitation_probability,weathercode,windspeed_10m")
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max,weathercode,windspeed_10m_max")
	params.Set("timezone", "auto")
	params.Set("forecast_days", "2")
	requestURL := c.baseURL + "?" + params.Encode()

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return Report{}, err
	}
	return parseForecast(body, now)
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	cacheKey := "open-meteo:" + requestURL
	if c.cache != nil {
		if body, ok, err := c.cache.CacheGet(ctx, cacheKey, c.ttl); err == nil && ok {
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &StatusError{StatusCode: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, providers.Permanent(err)
		}
		return nil, err
	}

	body, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		// A cache write failure only costs a refetch next time.
		_ = c.cache.CachePut(ctx, cacheKey, body)
	}
	return body, nil
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

type forecastResponse struct {
	Timezone         string `json:"timezone"`
	UTCOffsetSeconds int    `json:"utc_offset_seconds"`
	Hourly           struct {
		Time   []string   `json:"time"`
		Temp   []*float64 `json:"temperature_2m"`
		Precip []*float64 `json:"precipitation_probability"`
		Code   []*float64 `json:"weathercode"`
		Wind   []*float64 `json:"windspeed_10m"`
	} `json:"hourly"`
	Daily struct {
		Time      []string   `json:"time"`
		TempMax   []*float64 `json:"temperature_2m_max"`
		TempMin   []*float64 `json:"temperature_2m_min"`
		PrecipMax []*float64 `json:"precipitation_probability_max"`
		Code      []*float64 `json:"weathercode"`
		WindMax   []*float64 `json:"windspeed_10m_max"`
	} `json:"daily"`
}

func parseForecast(body []byte, now time.Time) (Report, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Report{}, providers.Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}

	zone, err := time.LoadLocation(resp.Timezone)
	if err != nil || resp.Timezone == "" {
		zone = time.FixedZone(resp.Timezone, resp.UTCOffsetSeconds)
	}
	nowLocal := now.In(zone)
	midnight := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day()+1, 0, 0, 0, 0, zone)

	report := Report{Timezone: zone.String()}
	for i, raw := range resp.Hourly.Time {
		t, err := time.ParseInLocation(hourLayout, raw, zone)
		if err != nil {
			return Report{}, providers.Permanent(fmt.Errorf("%w: hourly time %q", ErrMalformed, raw))
		}
		if t.Before(nowLocal) || !t.Before(midnight) {
			continue
		}
		report.Hourly = append(report.Hourly, Hour{
			Time:      t,
			TempC:     at(resp.Hourly.Temp, i),
			PrecipPct: at(resp.Hourly.Precip, i),
			WindKph:   at(resp.Hourly.Wind, i),
			Condition: CodeLabel(at(resp.Hourly.Code, i)),
		})
	}

	day := 0
	today := nowLocal.Format(dayLayout)
	for i, d := range resp.Daily.Time {
		if d == today {
			day = i
			break
		}
	}
	summary := CodeLabel(at(resp.Daily.Code, day))
	if summary == "" {
		summary = "Unknown"
	}
	report.Overview = Overview{
		Summary:      summary,
		MinC:         at(resp.Daily.TempMin, day),
		MaxC:         at(resp.Daily.TempMax, day),
		PrecipMaxPct: at(resp.Daily.PrecipMax, day),
		WindMaxKph:   at(resp.Daily.WindMax, day),
	}
	return report, nil
}

func at(values []*float64, i int) *float64 {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}

// =============================================================================
// CONTEXT PROVIDER
// =============================================================================

// Provider adapts a Client to providers.Provider.
type Provider struct {
	client *Client
}

// NewProvider creates the weather context provider.
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Kind implements providers.Provider.
func (p *Provider) Kind() providers.Kind { return providers.KindWeather }

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, req providers.Request) (providers.Payload, error) {
	loc := req.Location
	if loc == nil {
		return nil, fmt.Errorf("weather needs a confirmed location: %w", providers.ErrNotConfigured)
	}
	report, err := p.client.Forecast(ctx, loc.Latitude, loc.Longitude, req.Now)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ForLocation is a convenience for commands that want a report directly.
func (p *Provider) ForLocation(ctx context.Context, loc profile.Location, now time.Time) (Report, error) {
	return p.client.Forecast(ctx, loc.Latitude, loc.Longitude, now)
}
