// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across daypilot.
//
// # Key Functions
//
// Text:
//   - TruncateWidth: display-width aware truncation with ellipsis
//   - PadWidth: right-pad a cell to a display width
//   - Fold: case-folded form of a string for comparisons
//   - Words: significant case-folded words of a string
//   - TitleWord: title-case a single token ("bearer" -> "Bearer")
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	cell := util.PadWidth(util.TruncateWidth(task, 40), 40)
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
package util
