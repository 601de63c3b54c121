// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package location

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
)

// Payload is the confirmed location as planning context.
type Payload struct {
	Location profile.Location
}

// Kind implements providers.Payload.
func (Payload) Kind() providers.Kind { return providers.KindLocation }

// PromptText implements providers.Payload.
func (p Payload) PromptText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s (%.4f, %.4f)", p.Location.Name, p.Location.Latitude, p.Location.Longitude)
	if p.Location.Timezone != "" {
		fmt.Fprintf(&b, ", timezone %s", p.Location.Timezone)
	}
	return b.String()
}

// PresentMarkdown implements providers.Presenter.
func (p Payload) PresentMarkdown() string {
	return "**Location:** " + p.Location.Name
}

// Provider serves the confirmed location from the profile snapshot.
type Provider struct {
	loc *profile.Location
}

// NewProvider creates a Provider. A nil location makes every fetch report
// providers.ErrNotConfigured.
func NewProvider(loc *profile.Location) *Provider {
	return &Provider{loc: loc}
}

// Kind implements providers.Provider.
func (p *Provider) Kind() providers.Kind { return providers.KindLocation }

// Fetch implements providers.Provider. It does no I/O.
func (p *Provider) Fetch(ctx context.Context, _ providers.Request) (providers.Payload, error) {
	if p.loc == nil {
		return nil, fmt.Errorf("no confirmed location (run 'daypilot location set'): %w", providers.ErrNotConfigured)
	}
	return Payload{Location: *p.loc}, nil
}
