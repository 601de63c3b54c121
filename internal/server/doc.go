// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes planning runs over HTTP.
//
// # Endpoints
//
//   - POST /v1/plan  - Run the pipeline once and return the plan
//   - GET  /healthz  - Liveness and run counters
//
// # Middleware
//
//   - Panic recovery
//   - Security headers
//   - Request logging
//   - Token bucket rate limiting per client IP
//   - Optional bearer token authentication with constant-time comparison
//
// Every request runs an independent pipeline, so requests never share
// state beyond the profile store.
//
// # Usage
//
//	srv := server.New(cfg.Server, application, logger)
//	if err := srv.ListenAndServe(); err != nil {
//		log.Fatal(err)
//	}
package server
