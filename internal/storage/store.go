// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/daypilot/internal/profile"
)

// Schema creates the profile database tables.
const Schema = `
CREATE TABLE IF NOT EXISTS profile (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	provider      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	expires_at    INTEGER NOT NULL DEFAULT 0,
	connected_at  INTEGER NOT NULL DEFAULT 0,
	last_sync_at  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS http_cache (
	key       TEXT PRIMARY KEY,
	body      BLOB NOT NULL,
	stored_at INTEGER NOT NULL
);
`

const keyLocation = "location"

var (
	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("profile store is closed")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
)

// Store is the SQLite profile store. It implements profile.Store.
type Store struct {
	db     *sql.DB
	sealer *Sealer
	path   string
	now    func() time.Time
}

var _ profile.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. Tokens are sealed
// with sealer; a nil sealer stores them in plaintext, which only tests do.
func Open(path string, sealer *Sealer) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if path != ":memory:" {
		_ = os.Chmod(path, 0600)
	}

	return &Store{db: db, sealer: sealer, path: path, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// RUN BOUNDARY
// =============================================================================

// Snapshot reads the whole profile. The returned value shares nothing with
// the store.
func (s *Store) Snapshot(ctx context.Context) (profile.Profile, error) {
	if s.db == nil {
		return profile.Profile{}, ErrClosed
	}

	p := profile.Profile{
		Credentials: make(map[string]profile.Credential),
		LoadedAt:    s.now(),
	}

	loc, err := s.Location(ctx)
	switch {
	case err == nil:
		p.Location = &loc
	case errors.Is(err, ErrNotFound):
	default:
		return profile.Profile{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT provider FROM credentials ORDER BY provider`)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("failed to list credentials: %w", err)
	}
	var providers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return profile.Profile{}, fmt.Errorf("failed to scan credential: %w", err)
		}
		providers = append(providers, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return profile.Profile{}, fmt.Errorf("failed to list credentials: %w", err)
	}

	for _, name := range providers {
		c, err := s.Credential(ctx, name)
		if err != nil {
			return profile.Profile{}, err
		}
		p.Credentials[name] = c
	}
	return p, nil
}

// CommitRun persists what a finished run handed back, in one transaction.
func (s *Store) CommitRun(ctx context.Context, c profile.Commit) error {
	if s.db == nil {
		return ErrClosed
	}
	if c.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, cred := range c.Credentials {
		if err := s.putCredential(ctx, tx, cred); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// =============================================================================
// LOCATION
// =============================================================================

// Location returns the confirmed location or ErrNotFound.
func (s *Store) Location(ctx context.Context) (profile.Location, error) {
	var loc profile.Location
	if s.db == nil {
		return loc, ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM profile WHERE key = ?`, keyLocation).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return loc, ErrNotFound
	}
	if err != nil {
		return loc, fmt.Errorf("failed to read location: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return loc, fmt.Errorf("stored location is corrupt: %w", err)
	}
	return loc, nil
}

// SetLocation stores a confirmed location.
func (s *Store) SetLocation(ctx context.Context, loc profile.Location) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profile (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keyLocation, string(data), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}

// ClearLocation removes the stored location.
func (s *Store) ClearLocation(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profile WHERE key = ?`, keyLocation); err != nil {
		return fmt.Errorf("failed to clear location: %w", err)
	}
	return nil
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credential returns the stored credential for provider or ErrNotFound.
func (s *Store) Credential(ctx context.Context, provider string) (profile.Credential, error) {
	var c profile.Credential
	if s.db == nil {
		return c, ErrClosed
	}

	var access, refresh string
	var expires, connected, synced int64
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, scope, expires_at, connected_at, last_sync_at
		 FROM credentials WHERE provider = ?`, provider).
		Scan(&access, &refresh, &c.TokenType, &c.Scope, &expires, &connected, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("failed to read %s credential: %w", provider, err)
	}

	if c.AccessToken, err = s.open(access); err != nil {
		return c, fmt.Errorf("failed to unseal %s access token: %w", provider, err)
	}
	if c.RefreshToken, err = s.open(refresh); err != nil {
		return c, fmt.Errorf("failed to unseal %s refresh token: %w", provider, err)
	}
	c.Provider = provider
	c.ExpiresAt = fromUnix(expires)
	c.ConnectedAt = fromUnix(connected)
	c.LastSyncAt = fromUnix(synced)
	return c, nil
}

// SaveCredential stores or replaces a credential.
func (s *Store) SaveCredential(ctx context.Context, c profile.Credential) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.putCredential(ctx, s.db, c)
}

// DeleteCredential removes a provider's credential. Missing is not an error.
func (s *Store) DeleteCredential(ctx context.Context, provider string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("failed to delete %s credential: %w", provider, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) putCredential(ctx context.Context, db execer, c profile.Credential) error {
	if c.Provider == "" {
		return errors.New("credential has no provider")
	}
	access, err := s.seal(c.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(c.RefreshToken)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO credentials (provider, access_token, refresh_token, token_type, scope, expires_at, connected_at, last_sync_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			connected_at = excluded.connected_at,
			last_sync_at = excluded.last_sync_at`,
		c.Provider, access, refresh, c.TokenType, c.Scope,
		toUnix(c.ExpiresAt), toUnix(c.ConnectedAt), toUnix(c.LastSyncAt))
	if err != nil {
		return fmt.Errorf("failed to store %s credential: %w", c.Provider, err)
	}
	return nil
}

func (s *Store) seal(v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) open(v string) (string, error) {
	if s.sealer == nil {
		if IsSealed(v) {
			return "", errors.New("value is sealed but no sealing key is configured")
		}
		return v, nil
	}
	return s.sealer.Open(v)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
