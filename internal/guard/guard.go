// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package guard orchestrates the download authorization pipeline.
//
// For each request the guard consults the threat scorer, then the lock
// manager, then appends one audit entry, in that order. The audit
// append is the gate: if the trail cannot be written durably the guard
// fails closed and the download is denied, because the trail is the
// sole evidence used for abuse detection.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/assetsentry/assetsentry/internal/audit"
	"github.com/assetsentry/assetsentry/internal/clientip"
	"github.com/assetsentry/assetsentry/internal/lock"
	"github.com/assetsentry/assetsentry/internal/logging"
	"github.com/assetsentry/assetsentry/internal/metrics"
	"github.com/assetsentry/assetsentry/internal/threat"
)

// ErrPersistence is returned when the audit trail cannot be written.
// The download is denied in that case.
var ErrPersistence = errors.New("audit trail write failed")

// Request describes one download attempt to be authorized.
type Request struct {
	// ClientKey is the resolved requester key. Empty degrades to the
	// shared unknown-client bucket.
	ClientKey string

	// AssetID identifies the requested asset.
	AssetID string

	// AssetVersion is the asset's version marker, recorded verbatim.
	AssetVersion string

	// UserID is the authenticated user, empty for anonymous requests.
	UserID string
}

// Decision is the outcome of one guard pass. For an allowed download
// the caller must invoke Release on every exit path; Release is
// idempotent, so registering it from overlapping deferred and abort
// paths is harmless.
type Decision struct {
	// Outcome of the decision.
	Outcome audit.Outcome

	// RetryAfter hints how long a lock-denied client should wait.
	RetryAfter time.Duration

	release     func()
	releaseOnce sync.Once
}

// Allowed reports whether the download may proceed.
func (d *Decision) Allowed() bool {
	return d.Outcome == audit.OutcomeAllowed
}

// Release frees the client's download lock. Safe to call any number of
// times, from any exit path, including after abrupt termination of the
// streaming code.
func (d *Decision) Release() {
	if d.release == nil {
		return
	}
	d.releaseOnce.Do(d.release)
}

// Config holds guard policy settings.
type Config struct {
	// LockDeniedSuspicious controls whether lock-contention denials
	// count toward blacklisting. Off by default: contention alone is
	// normal client behavior, and NAT puts many users behind one key.
	LockDeniedSuspicious bool

	// BreakerFailures is the consecutive audit-write failure count that
	// opens the circuit breaker.
	BreakerFailures uint32

	// BreakerTimeout is how long an open breaker waits before probing
	// the store again.
	BreakerTimeout time.Duration
}

// DefaultConfig returns sensible guard defaults.
func DefaultConfig() Config {
	return Config{
		LockDeniedSuspicious: false,
		BreakerFailures:      3,
		BreakerTimeout:       30 * time.Second,
	}
}

// Guard coordinates the scorer, lock manager and audit trail. It holds
// no per-request state of its own.
type Guard struct {
	locks   *lock.Manager
	scorer  *threat.Scorer
	store   audit.Store
	breaker *gobreaker.CircuitBreaker[any]
	policy  Config
	now     func() time.Time
}

// New creates a download guard.
func New(locks *lock.Manager, scorer *threat.Scorer, store audit.Store, policy Config) *Guard {
	if policy.BreakerFailures == 0 {
		policy.BreakerFailures = 3
	}
	if policy.BreakerTimeout == 0 {
		policy.BreakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "audit-append",
		MaxRequests: 1,
		Timeout:     policy.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Audit breaker state change")
		},
	})

	return &Guard{
		locks:   locks,
		scorer:  scorer,
		store:   store,
		breaker: breaker,
		policy:  policy,
		now:     time.Now,
	}
}

// Decide authorizes or denies one download attempt. Every returned
// decision has exactly one matching audit entry; an error return means
// no decision was made and the request must be refused.
//
// Absence of state is not an error: no lock and zero suspicion are
// valid proceed conditions.
func (g *Guard) Decide(ctx context.Context, req Request) (*Decision, error) {
	key := req.ClientKey
	if key == "" {
		key = clientip.UnknownKey
	}

	if g.scorer.IsDangerous(ctx, key) {
		if err := g.append(ctx, g.newEntry(req, key, audit.OutcomeDeniedBlacklist, true)); err != nil {
			return nil, err
		}
		g.scorer.RecordSuspicious(ctx, key)
		g.finish(ctx, key, audit.OutcomeDeniedBlacklist)
		return &Decision{Outcome: audit.OutcomeDeniedBlacklist}, nil
	}

	lk, err := g.locks.Acquire(key, req.AssetID)
	if errors.Is(err, lock.ErrLockHeld) {
		suspicious := g.policy.LockDeniedSuspicious
		if appendErr := g.append(ctx, g.newEntry(req, key, audit.OutcomeDeniedLock, suspicious)); appendErr != nil {
			return nil, appendErr
		}
		if suspicious {
			g.scorer.RecordSuspicious(ctx, key)
		}
		g.finish(ctx, key, audit.OutcomeDeniedLock)
		return &Decision{
			Outcome:    audit.OutcomeDeniedLock,
			RetryAfter: g.locks.Remaining(key),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if appendErr := g.append(ctx, g.newEntry(req, key, audit.OutcomeAllowed, false)); appendErr != nil {
		// Fail closed without leaving the key locked out for the TTL.
		g.locks.Release(lk)
		return nil, appendErr
	}

	g.finish(ctx, key, audit.OutcomeAllowed)
	return &Decision{
		Outcome: audit.OutcomeAllowed,
		release: func() {
			g.locks.Release(lk)
			metrics.ActiveLocks.Set(float64(g.locks.ActiveCount()))
		},
	}, nil
}

// newEntry builds the audit entry for a decision.
func (g *Guard) newEntry(req Request, key string, outcome audit.Outcome, suspicious bool) *audit.Entry {
	return &audit.Entry{
		ID:           uuid.New().String(),
		Timestamp:    g.now().UTC(),
		AssetID:      req.AssetID,
		AssetVersion: req.AssetVersion,
		ClientKey:    key,
		UserID:       req.UserID,
		Outcome:      outcome,
		Suspicious:   suspicious,
	}
}

// append writes an audit entry through the circuit breaker.
func (g *Guard) append(ctx context.Context, entry *audit.Entry) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.store.Append(ctx, entry)
	})
	if err != nil {
		metrics.AuditWriteErrors.Inc()
		logging.Error().Err(err).Str("client_key", entry.ClientKey).Msg("Audit append failed, denying download")
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	return nil
}

// finish records metrics and a decision log line.
func (g *Guard) finish(ctx context.Context, key string, outcome audit.Outcome) {
	metrics.RecordDecision(string(outcome))
	metrics.ActiveLocks.Set(float64(g.locks.ActiveCount()))
	metrics.BlacklistedClients.Set(float64(g.scorer.DangerousCount()))

	logging.Ctx(ctx).Debug().
		Str("client_key", key).
		Str("outcome", string(outcome)).
		Msg("Guard decision")
}
