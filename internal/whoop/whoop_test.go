// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
)

var fixedNow = time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// fakeAPI serves the WHOOP endpoints and accepts only wantToken.
type fakeAPI struct {
	wantToken  atomic.Value // string
	sleepFound bool
	apiCalls   atomic.Int32
	refreshes  atomic.Int32
	lastForm   atomic.Value // url.Values
	rejectAll  bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		assert.NoError(t, r.ParseForm())
		f.lastForm.Store(r.PostForm)
		f.wantToken.Store("fresh-token")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh-token","expires_in":3600,"token_type":"bearer","scope":"offline read:recovery"}`)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		want, _ := f.wantToken.Load().(string)
		if f.rejectAll || r.Header.Get("Authorization") != "Bearer "+want {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"invalid token"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/api") {
		case "/v2/cycle":
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `{"records":[{"id":93845,"start":"2026-10-18T22:10:00Z","end":null,"score_state":"SCORED","score":{"strain":8.4,"kilojoule":8288,"average_heart_rate":68,"max_heart_rate":141}}]}`)
		case "/v2/cycle/93845/recovery":
			fmt.Fprint(w, `{"cycle_id":93845,"sleep_id":"ecfc6a15","score_state":"SCORED","score":{"user_calibrating":false,"recovery_score":62,"resting_heart_rate":55,"hrv_rmssd_milli":45.2,"spo2_percentage":95.6,"skin_temp_celsius":33.7}}`)
		case "/v2/cycle/93845/sleep":
			if !f.sleepFound {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message":"no sleep"}`)
				return
			}
			fmt.Fprint(w, `{"id":"ecfc6a15","start":"2026-10-18T22:30:00Z","end":"2026-10-19T06:30:00Z","nap":false,"score_state":"SCORED","score":{"stage_summary":{"total_in_bed_time_milli":28800000,"total_awake_time_milli":2880000},"respiratory_rate":15.2,"sleep_performance_percentage":88,"sleep_efficiency_percentage":91}}`)
		case "/v2/activity/workout":
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `{"records":[{"id":"w1","sport_name":"running","start":"2026-10-18T17:00:00Z","end":"2026-10-18T17:45:00Z","score_state":"SCORED","score":{"strain":12.1,"average_heart_rate":150}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func newFake(t *testing.T, token string) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{}
	f.wantToken.Store(token)
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(srv *httptest.Server, cred profile.Credential) *Client {
	oauth := OAuthConfig{ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL + "/oauth/token"}
	return NewClient(cred, oauth, WithBaseURL(srv.URL+"/api"), WithClock(clock), WithHTTPClient(srv.Client()))
}

func TestSnapshot(t *testing.T) {
	f, srv := newFake(t, "tok")
	f.sleepFound = true
	c := newTestClient(srv, profile.Credential{AccessToken: "tok", TokenType: "bearer", ExpiresAt: fixedNow.Add(time.Hour)})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	score, ok := snap.RecoveryScore()
	require.True(t, ok)
	assert.Equal(t, 62.0, score)
	strain, ok := snap.Strain()
	require.True(t, ok)
	assert.Equal(t, 8.4, strain)
	assert.Equal(t, "7.2 h asleep, performance 88%", snap.SleepSummary())
	require.Len(t, snap.Workouts, 1)

	text := snap.PromptText()
	assert.Contains(t, text, "Recovery: 62% (HRV 45 ms, resting HR 55 bpm)")
	assert.Contains(t, text, "Sleep: 7.2 h asleep, performance 88%")
	assert.Contains(t, text, "Day strain so far: 8.4")
	assert.Contains(t, text, "Recent workouts: running (strain 12.1)")
	assert.Equal(t, "**Recovery:** Recovery 62% | Sleep 7.2 h asleep, performance 88% | Strain 8.4", snap.PresentMarkdown())

	cred, changed := c.Credential()
	assert.True(t, changed)
	assert.Equal(t, fixedNow, cred.LastSyncAt)
	assert.Equal(t, int32(0), f.refreshes.Load())
}

func TestSnapshotMissingSleep(t *testing.T) {
	_, srv := newFake(t, "tok")
	c := newTestClient(srv, profile.Credential{AccessToken: "tok"})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Sleep)
	assert.Contains(t, snap.PromptText(), "Sleep: not scored yet")
}

func TestRefreshBeforeExpiry(t *testing.T) {
	f, srv := newFake(t, "fresh-token")
	c := newTestClient(srv, profile.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    fixedNow.Add(30 * time.Second),
	})

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refreshes.Load())

	form := f.lastForm.Load().(url.Values)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "offline", form.Get("scope"))
	assert.Equal(t, "cid", form.Get("client_id"))

	cred, changed := c.Credential()
	assert.True(t, changed)
	assert.Equal(t, "fresh-token", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken, "refresh token kept when the reply omits it")
	assert.Equal(t, fixedNow.Add(time.Hour), cred.ExpiresAt)
}

func TestRefreshOnUnauthorized(t *testing.T) {
	f, srv := newFake(t, "fresh-token")
	c := newTestClient(srv, profile.Credential{AccessToken: "revoked", RefreshToken: "r", ExpiresAt: fixedNow.Add(time.Hour)})

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestUnauthorizedAfterRefresh(t *testing.T) {
	f, srv := newFake(t, "tok")
	f.rejectAll = true
	c := newTestClient(srv, profile.Credential{AccessToken: "tok", RefreshToken: "r"})

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrUnauthorized)
	assert.True(t, providers.IsPermanent(err))
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	_, srv := newFake(t, "other")
	c := newTestClient(srv, profile.Credential{AccessToken: "tok"})

	_, err := c.Snapshot(context.Background())
	assert.ErrorIs(t, err, providers.ErrUnauthorized)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(srv, profile.Credential{AccessToken: "tok"})

	_, err := c.Snapshot(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.False(t, providers.IsPermanent(err))
}

func TestAuthHeaderTitleCasesTokenType(t *testing.T) {
	assert.Equal(t, "Bearer abc", authHeader(profile.Credential{AccessToken: "abc", TokenType: "BEARER"}))
	assert.Equal(t, "Bearer abc", authHeader(profile.Credential{AccessToken: "abc"}))
}

func TestProvider(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		p := NewProvider(nil)
		assert.Equal(t, providers.KindRecovery, p.Kind())
		_, err := p.Fetch(context.Background(), providers.Request{})
		assert.ErrorIs(t, err, providers.ErrNotConfigured)
		assert.True(t, p.Commit().Empty())
	})

	t.Run("commit after sync", func(t *testing.T) {
		_, srv := newFake(t, "tok")
		p := NewProvider(newTestClient(srv, profile.Credential{Provider: profile.ProviderWhoop, AccessToken: "tok"}))
		assert.True(t, p.Commit().Empty())

		payload, err := p.Fetch(context.Background(), providers.Request{Now: fixedNow})
		require.NoError(t, err)
		assert.Equal(t, providers.KindRecovery, payload.Kind())

		commit := p.Commit()
		require.Len(t, commit.Credentials, 1)
		assert.Equal(t, profile.ProviderWhoop, commit.Credentials[0].Provider)
		assert.Equal(t, fixedNow, commit.Credentials[0].LastSyncAt)
	})
}

// =============================================================================
// OAUTH
// =============================================================================

func TestAuthorizationURL(t *testing.T) {
	cfg := OAuthConfig{ClientID: "cid", ClientSecret: "s"}
	u, err := url.Parse(cfg.AuthorizationURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "api.prod.whoop.com", u.Host)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://127.0.0.1:8765/callback", q.Get("redirect_uri"))
	assert.Equal(t, DefaultScope, q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
}

func TestParseCallback(t *testing.T) {
	res := parseCallback(url.Values{"state": {"x"}, "code": {"c"}}, "x")
	require.NoError(t, res.err)
	assert.Equal(t, "c", res.code)

	res = parseCallback(url.Values{"state": {"y"}, "code": {"c"}}, "x")
	assert.ErrorIs(t, res.err, ErrStateMismatch)

	res = parseCallback(url.Values{"error": {"access_denied"}, "error_description": {"user said no"}}, "x")
	assert.ErrorIs(t, res.err, ErrAuthDenied)
	assert.Contains(t, res.err.Error(), "user said no")
}

func TestExchangeCodeFallsBackToForm(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Content-Type"))
		if r.Header.Get("Content-Type") == "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported_content_type"}`)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		fmt.Fprint(w, `{"access_token":"a","refresh_token":"r","expires_in":3600,"token_type":"bearer"}`)
	}))
	defer srv.Close()

	cfg := OAuthConfig{ClientID: "cid", ClientSecret: "s", TokenURL: srv.URL}
	tok, err := ExchangeCode(context.Background(), srv.Client(), cfg, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, []string{"application/json", "application/x-www-form-urlencoded"}, seen)
}

func TestExchangeCodeBasicAuth(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "cid", user)
		assert.Equal(t, "s", pass)
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), "client_secret")
		fmt.Fprint(w, `{"access_token":"a","token_type":"bearer"}`)
	}))
	defer srv.Close()

	tok, err := ExchangeCode(context.Background(), srv.Client(), OAuthConfig{ClientID: "cid", ClientSecret: "s", TokenURL: srv.URL}, "c")
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, 3, attempts)
}

func TestExchangeCodeAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	_, err := ExchangeCode(context.Background(), srv.Client(), OAuthConfig{ClientID: "cid", ClientSecret: "s", TokenURL: srv.URL}, "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "form_basic")
	assert.Contains(t, err.Error(), "invalid_grant")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestConnect(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "code-123", body["code"])
		fmt.Fprint(w, `{"access_token":"a","refresh_token":"r","expires_in":3600,"token_type":"bearer","scope":"offline"}`)
	}))
	defer tokenSrv.Close()

	cfg := OAuthConfig{
		ClientID:     "cid",
		ClientSecret: "s",
		TokenURL:     tokenSrv.URL,
		RedirectHost: "127.0.0.1",
		RedirectPort: freePort(t),
	}

	open := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		cb := u.Query().Get("redirect_uri") + "?code=code-123&state=" + url.QueryEscape(u.Query().Get("state"))
		resp, err := http.Get(cb)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("callback returned %d", resp.StatusCode)
		}
		return nil
	}

	cred, err := Connect(context.Background(), cfg, ConnectOptions{Open: open, Timeout: 5 * time.Second, Now: clock})
	require.NoError(t, err)
	assert.Equal(t, profile.ProviderWhoop, cred.Provider)
	assert.Equal(t, "a", cred.AccessToken)
	assert.Equal(t, "r", cred.RefreshToken)
	assert.Equal(t, fixedNow, cred.ConnectedAt)
	assert.Equal(t, fixedNow.Add(time.Hour), cred.ExpiresAt)
}

func TestConnectTimeout(t *testing.T) {
	cfg := OAuthConfig{ClientID: "cid", ClientSecret: "s", RedirectPort: freePort(t)}
	_, err := Connect(context.Background(), cfg, ConnectOptions{
		Open:    func(string) error { return nil },
		Timeout: 50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectRequiresClient(t *testing.T) {
	_, err := Connect(context.Background(), OAuthConfig{}, ConnectOptions{Open: func(string) error { return nil }})
	assert.ErrorIs(t, err, ErrMissingClient)
}
