// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui renders a live view of a planning run in the terminal.
//
// The view is a Bubble Tea model fed with plan.Progress events. Each
// pipeline stage is listed with a spinner while it runs and a status
// indicator once it finishes.
package ui
