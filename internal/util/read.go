// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"io"
)

// UserAgent is sent on every outbound HTTP request.
const UserAgent = "daypilot/0.2.0"

// ReadLimited reads at most max bytes from r and fails if the body is
// larger, so a misbehaving upstream cannot exhaust memory.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", max)
	}
	return body, nil
}
