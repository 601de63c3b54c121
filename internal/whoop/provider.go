// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whoop

import (
	"context"
	"fmt"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
)

// Provider supplies recovery context. A nil client means no account is
// connected and every fetch reports ErrNotConfigured.
type Provider struct {
	client *Client
}

// NewProvider wraps client as the recovery provider.
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Kind implements providers.Provider.
func (p *Provider) Kind() providers.Kind { return providers.KindRecovery }

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, _ providers.Request) (providers.Payload, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, providers.ErrNotConfigured)
	}
	snap, err := p.client.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit returns the credential changes a finished run should persist.
func (p *Provider) Commit() profile.Commit {
	if p.client == nil {
		return profile.Commit{}
	}
	cred, changed := p.client.Credential()
	if !changed {
		return profile.Commit{}
	}
	return profile.Commit{Credentials: []profile.Credential{cred}}
}
