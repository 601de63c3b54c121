// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/daypilot/internal/location"
	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/storage"
	"github.com/jeranaias/daypilot/internal/weather"
	"github.com/jeranaias/daypilot/internal/whoop"
)

// =============================================================================
// LOCATION
// =============================================================================

// Resolver returns a geocoder configured from the active config.
func (a *App) Resolver() *location.Resolver {
	cfg := a.Config()
	return location.NewResolver(cfg.Location.OpenCageKey, location.WithBaseURL(cfg.Location.GeocodeURL))
}

// Location returns the confirmed location or ErrNoLocation.
func (a *App) Location(ctx context.Context) (profile.Location, error) {
	loc, err := a.store.Location(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return loc, ErrNoLocation
	}
	return loc, err
}

// ConfirmLocation stores the candidate match the user picked.
func (a *App) ConfirmLocation(ctx context.Context, r *location.Resolver, c location.Candidate, index int) (profile.Location, error) {
	loc, err := r.Confirm(c, index)
	if err != nil {
		return loc, err
	}
	loc.ConfirmedAt = a.clock()
	if err := a.store.SetLocation(ctx, loc); err != nil {
		return loc, fmt.Errorf("save location: %w", err)
	}
	a.logger.Info("LOCATION_CONFIRMED", "name", loc.Name, "timezone", loc.Timezone)
	return loc, nil
}

// ClearLocation forgets the confirmed location.
func (a *App) ClearLocation(ctx context.Context) error {
	return a.store.ClearLocation(ctx)
}

// =============================================================================
// WEATHER
// =============================================================================

// Forecast returns the rest of today's forecast for the confirmed location.
func (a *App) Forecast(ctx context.Context) (weather.Report, error) {
	loc, err := a.Location(ctx)
	if err != nil {
		return weather.Report{}, err
	}
	a.mu.RLock()
	wx := a.weather
	a.mu.RUnlock()
	return weather.NewProvider(wx).ForLocation(ctx, loc, a.clock().In(loc.TimeZone()))
}

// =============================================================================
// WHOOP
// =============================================================================

// ConnectWhoop runs the OAuth flow and stores the resulting credential.
func (a *App) ConnectWhoop(ctx context.Context, opts whoop.ConnectOptions) (profile.Credential, error) {
	if opts.Now == nil {
		opts.Now = a.clock
	}
	cred, err := whoop.Connect(ctx, oauthConfig(a.Config()), opts)
	if err != nil {
		return cred, err
	}
	if err := a.store.SaveCredential(ctx, cred); err != nil {
		return cred, fmt.Errorf("save whoop credential: %w", err)
	}
	a.logger.Info("WHOOP_CONNECTED", "scope", cred.Scope)
	return cred, nil
}

// WhoopStatus returns the stored credential or whoop.ErrNotConnected.
func (a *App) WhoopStatus(ctx context.Context) (profile.Credential, error) {
	cred, err := a.store.Credential(ctx, profile.ProviderWhoop)
	if errors.Is(err, storage.ErrNotFound) {
		return cred, whoop.ErrNotConnected
	}
	return cred, err
}

// DisconnectWhoop deletes the stored credential.
func (a *App) DisconnectWhoop(ctx context.Context) error {
	if _, err := a.WhoopStatus(ctx); err != nil {
		return err
	}
	return a.store.DeleteCredential(ctx, profile.ProviderWhoop)
}
