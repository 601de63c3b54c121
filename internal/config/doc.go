// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration management for daypilot.
//
// Configuration lives in ~/.daypilot/config.toml (or $DAYPILOT_HOME) and is
// layered as defaults, then the TOML file, then environment variables.
//
// # Sections
//
//   - reasoning: backend (openai or ollama), model, endpoints, retry policy
//   - providers: per-provider timeout, retry attempts and backoff, toggles
//   - location:  OpenCage geocoder key and endpoint
//   - whoop:     OAuth client credentials, endpoints, callback address
//   - planning:  default work hours, input limits
//   - server:    plan endpoint address, bearer token, rate limits
//   - storage:   SQLite profile database and sealing key file
//   - logging:   level, format, optional log file
//
// # Environment Variables
//
//   - OPENAI_API_KEY, OPENCAGE_API_KEY, WHOOP_CLIENT_ID, WHOOP_CLIENT_SECRET
//   - DAYPILOT_HOME, DAYPILOT_BACKEND, DAYPILOT_MODEL, DAYPILOT_OLLAMA_URL
//   - DAYPILOT_LOG_LEVEL, DAYPILOT_SERVER_TOKEN, DAYPILOT_DB
//
// # Usage
//
//	cfg, err := config.Load()
//	cfg.Planning.WorkHours = "8am-4pm"
//	err = config.Save(cfg)
package config
