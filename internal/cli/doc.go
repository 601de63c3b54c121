// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the daypilot command line.
//
// # Commands
//
//   - plan: run the planning pipeline and print today's plan
//   - location set|show|clear: manage the confirmed location
//   - whoop connect|status|disconnect: manage the WHOOP account
//   - weather: print the rest of today's forecast
//   - serve: expose planning over HTTP
//   - config init|show|path: manage the configuration file
//   - version: print build information
//
// Commands return errors instead of printing them; Execute prints the error
// once and maps it to an exit code.
package cli
