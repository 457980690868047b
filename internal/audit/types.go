// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package audit provides the append-only download audit trail.
//
// Every guard decision produces exactly one Entry. Entries are never
// updated or deleted except by retention cleanup and the administrative
// purge. The trail doubles as the data source for threat scoring.
package audit

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies a download decision.
type Outcome string

const (
	// OutcomeAllowed means the download was authorized and streamed.
	OutcomeAllowed Outcome = "allowed"

	// OutcomeDeniedLock means an active lock existed for the client key.
	OutcomeDeniedLock Outcome = "denied_lock"

	// OutcomeDeniedBlacklist means the client key was blacklisted.
	OutcomeDeniedBlacklist Outcome = "denied_blacklist"
)

// Entry is one immutable row of the audit trail.
type Entry struct {
	// ID is a unique identifier for this entry.
	ID string `json:"id"`

	// Timestamp when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// AssetID identifies the requested asset.
	AssetID string `json:"asset_id"`

	// AssetVersion is the asset's version marker at decision time,
	// recorded verbatim for later integrity auditing.
	AssetVersion string `json:"asset_version,omitempty"`

	// ClientKey is the resolved requester key (typically an IP).
	ClientKey string `json:"client_key"`

	// UserID is the authenticated user, empty for anonymous downloads.
	UserID string `json:"user_id,omitempty"`

	// Outcome of the guard decision.
	Outcome Outcome `json:"outcome"`

	// Suspicious marks entries that count toward blacklisting.
	Suspicious bool `json:"suspicious"`
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	ClientKey  string
	Outcome    Outcome
	Suspicious *bool
	Limit      int
	Offset     int
}

// DefaultFilter returns the filter used when callers pass no options.
func DefaultFilter() Filter {
	return Filter{Limit: 50}
}

// matches reports whether an entry satisfies all filter criteria.
func (f *Filter) matches(e *Entry) bool {
	if f.ClientKey != "" && e.ClientKey != f.ClientKey {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Suspicious != nil && e.Suspicious != *f.Suspicious {
		return false
	}
	return true
}

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("audit store is closed")

// Store is the persistence contract for the audit trail.
//
// Append is durable and synchronous: the guard fails closed when it
// errors, so implementations must not buffer writes.
type Store interface {
	// Append persists a new entry. Prior entries are never mutated.
	Append(ctx context.Context, entry *Entry) error

	// Query returns entries most-recent-first, honoring the filter's
	// constraints and Limit/Offset pagination.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// Count returns the number of retained entries.
	Count(ctx context.Context) (int64, error)

	// CountSuspicious returns the number of suspicious-flagged entries
	// for one client key.
	CountSuspicious(ctx context.Context, clientKey string) (int, error)

	// PurgeAll removes every entry. Administrative reset only.
	PurgeAll(ctx context.Context) error

	// CleanupExpired removes entries older than the cutoff and returns
	// how many were removed.
	CleanupExpired(ctx context.Context, before time.Time) (int, error)

	// Close releases store resources.
	Close() error
}
