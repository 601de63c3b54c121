// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profile defines the long-lived user profile that surrounds a
// planning run: the confirmed home location and provider credentials.
//
// A Profile is read once at the start of a run (Store.Snapshot) and is
// treated as read-only while the pipeline executes. Anything a run learns
// that should outlive it, such as refreshed OAuth tokens, is handed back
// to the store after the run through Store.CommitRun.
package profile

import (
	"context"
	"time"
)

// Provider names used as credential keys.
const (
	ProviderWhoop = "whoop"
)

// Location is a geocoded place the user has explicitly confirmed.
type Location struct {
	Name        string    `json:"name"`
	City        string    `json:"city,omitempty"`
	Region      string    `json:"region,omitempty"`
	Country     string    `json:"country,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timezone    string    `json:"timezone,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// TimeZone resolves the IANA zone, falling back to time.Local.
func (l Location) TimeZone() *time.Location {
	if l.Timezone == "" {
		return time.Local
	}
	tz, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.Local
	}
	return tz
}

// Credential is a stored OAuth token set for one provider.
type Credential struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time // zero when the provider gave no expiry
	ConnectedAt  time.Time
	LastSyncAt   time.Time
}

// ExpiresWithin reports whether the token expires before now+d.
// Tokens without an expiry never do.
func (c Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(d))
}

// Profile is an immutable snapshot of the stored profile.
type Profile struct {
	Location    *Location
	Credentials map[string]Credential
	LoadedAt    time.Time
}

// Credential returns the credential for provider, if connected.
func (p Profile) Credential(provider string) (Credential, bool) {
	c, ok := p.Credentials[provider]
	return c, ok
}

// TimeZone is the planning zone: the confirmed location's zone or time.Local.
func (p Profile) TimeZone() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location.TimeZone()
}

// Commit carries the state a finished run hands back to the store.
type Commit struct {
	Credentials []Credential
}

// Empty reports whether there is nothing to persist.
func (c Commit) Empty() bool {
	return len(c.Credentials) == 0
}

// Store is the persisted profile.
type Store interface {
	Snapshot(ctx context.Context) (Profile, error)
	CommitRun(ctx context.Context, c Commit) error
}
