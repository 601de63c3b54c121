// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheGet returns the body stored under key if it is younger than maxAge.
func (s *Store) CacheGet(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var body []byte
	var stored int64
	err := s.db.QueryRowContext(ctx, `SELECT body, stored_at FROM http_cache WHERE key = ?`, key).Scan(&body, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	if s.now().Sub(time.Unix(stored, 0)) >= maxAge {
		return nil, false, nil
	}
	return body, true, nil
}

// CachePut stores body under key.
func (s *Store) CachePut(ctx context.Context, key string, body []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO http_cache (key, body, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, stored_at = excluded.stored_at`,
		key, body, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// CachePrune deletes entries older than maxAge and returns how many went.
func (s *Store) CachePrune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	cutoff := s.now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM http_cache WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}
