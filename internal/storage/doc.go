// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the SQLite-backed profile store for daypilot.
//
// The database holds three tables:
//
//   - profile:     small key/value records (the confirmed location)
//   - credentials: provider OAuth tokens, sealed with AES-256-GCM
//   - http_cache:  upstream responses cached with a store timestamp
//
// # Key Types
//
//   - Store:  implements profile.Store plus the mutation commands used by the CLI
//   - Sealer: AES-GCM sealing of secrets using a key file or a passphrase
//
// # Usage
//
//	sealer, err := storage.SealerFromKeyFile(keyPath)
//	store, err := storage.Open(dbPath, sealer)
//	defer store.Close()
//
//	snap, err := store.Snapshot(ctx)   // once, before a planning run
//	err = store.CommitRun(ctx, commit) // once, after it
package storage
