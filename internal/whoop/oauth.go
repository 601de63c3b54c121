// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whoop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/util"
)

// CallbackTimeout bounds how long Connect waits for the browser redirect.
const CallbackTimeout = 300 * time.Second

var (
	// ErrMissingClient means no client ID or secret is configured.
	ErrMissingClient = errors.New("whoop: client_id and client_secret are required")
	// ErrStateMismatch means the callback carried a different state value.
	ErrStateMismatch = errors.New("whoop: OAuth state mismatch")
	// ErrAuthDenied means the user or WHOOP rejected the authorization.
	ErrAuthDenied = errors.New("whoop: authorization denied")
)

// tokenEncoding is one way of presenting the code exchange to WHOOP.
type tokenEncoding int

const (
	encodingJSON tokenEncoding = iota
	encodingForm
	encodingFormBasic
)

func (e tokenEncoding) String() string {
	switch e {
	case encodingJSON:
		return "json"
	case encodingForm:
		return "form"
	case encodingFormBasic:
		return "form_basic"
	default:
		return "unknown"
	}
}

// AuthorizationURL builds the URL the user opens to grant access.
func (o OAuthConfig) AuthorizationURL(state string) string {
	o = o.withDefaults()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {o.ClientID},
		"redirect_uri":  {o.RedirectURI()},
		"scope":         {o.Scope},
		"state":         {state},
	}
	return o.AuthURL + "?" + q.Encode()
}

// ConnectOptions customize Connect.
type ConnectOptions struct {
	// Open presents the authorization URL, typically by printing it or
	// launching a browser. Required.
	Open func(authURL string) error
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
	// Timeout overrides CallbackTimeout.
	Timeout time.Duration
	Now     func() time.Time
}

type callbackResult struct {
	code string
	err  error
}

// Connect runs the authorization code flow: it listens on the loopback
// redirect address, hands the authorization URL to opts.Open, waits for
// the callback and exchanges the code for a credential.
func Connect(ctx context.Context, cfg OAuthConfig, opts ConnectOptions) (profile.Credential, error) {
	cfg = cfg.withDefaults()
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return profile.Credential{}, ErrMissingClient
	}
	if opts.Open == nil {
		return profile.Credential{}, errors.New("whoop: Open callback is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = CallbackTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		res := parseCallback(r.URL.Query(), state)
		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			http.Error(w, "Authorization failed: "+res.err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h3>daypilot is connected to WHOOP.</h3>You can close this tab.</body></html>")
	})

	addr := net.JoinHostPort(cfg.RedirectHost, fmt.Sprint(cfg.RedirectPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return profile.Credential{}, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := opts.Open(cfg.AuthorizationURL(state)); err != nil {
		return profile.Credential{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return profile.Credential{}, fmt.Errorf("waiting for WHOOP callback: %w", waitCtx.Err())
	}
	if res.err != nil {
		return profile.Credential{}, res.err
	}

	tok, err := ExchangeCode(ctx, opts.HTTPClient, cfg, res.code)
	if err != nil {
		return profile.Credential{}, err
	}
	now := opts.Now()
	cred := tok.apply(profile.Credential{}, now)
	cred.ConnectedAt = now
	return cred, nil
}

func parseCallback(q url.Values, state string) callbackResult {
	if e := q.Get("error"); e != "" {
		msg := e
		if d := q.Get("error_description"); d != "" {
			msg += ": " + d
		}
		return callbackResult{err: fmt.Errorf("%w: %s", ErrAuthDenied, msg)}
	}
	if q.Get("state") != state {
		return callbackResult{err: ErrStateMismatch}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: fmt.Errorf("%w: no code in callback", ErrAuthDenied)}
	}
	return callbackResult{code: code}
}

// ExchangeCode trades an authorization code for tokens. WHOOP has accepted
// different request encodings over time, so JSON, form and form with
// basic auth are tried in order; the last failure is returned.
func ExchangeCode(ctx context.Context, client *http.Client, cfg OAuthConfig, code string) (Token, error) {
	cfg = cfg.withDefaults()
	fields := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {cfg.RedirectURI()},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
	}

	var lastErr error
	for _, enc := range []tokenEncoding{encodingJSON, encodingForm, encodingFormBasic} {
		tok, err := postToken(ctx, client, cfg.TokenURL, fields, enc, cfg)
		if err == nil {
			return tok, nil
		}
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
		lastErr = fmt.Errorf("token exchange (%s): %w", enc, err)
	}
	return Token{}, lastErr
}

func postToken(ctx context.Context, client *http.Client, tokenURL string, fields url.Values, enc tokenEncoding, cfg OAuthConfig) (Token, error) {
	var (
		body        []byte
		contentType string
	)
	switch enc {
	case encodingJSON:
		m := make(map[string]string, len(fields))
		for k := range fields {
			m[k] = fields.Get(k)
		}
		b, err := json.Marshal(m)
		if err != nil {
			return Token{}, err
		}
		body, contentType = b, "application/json"
	case encodingFormBasic:
		f := url.Values{}
		for k, v := range fields {
			if k != "client_id" && k != "client_secret" {
				f[k] = v
			}
		}
		body, contentType = []byte(f.Encode()), "application/x-www-form-urlencoded"
	default:
		body, contentType = []byte(fields.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)
	if enc == encodingFormBasic {
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return Token{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, &APIError{StatusCode: resp.StatusCode, Message: apiMessage(respBody)}
	}

	var tok Token
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return Token{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return Token{}, errors.New("token response has no access_token")
	}
	return tok, nil
}
