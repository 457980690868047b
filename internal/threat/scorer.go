// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package threat maintains per-client suspicion scores and the derived
// blacklist verdict.
//
// Scores are a read-through cache over the audit trail: a key's counter
// is primed from the store's persisted suspicious-entry count on first
// sight, then advanced in memory as the guard records new hits. The
// cache and the trail cannot drift apart across restarts because the
// trail is the source of truth; an administrative purge resets both.
package threat

import (
	"context"
	"sync"

	"github.com/assetsentry/assetsentry/internal/logging"
)

// CountSource is the audit-store subset the scorer reads from.
type CountSource interface {
	CountSuspicious(ctx context.Context, clientKey string) (int, error)
}

// Scorer tracks suspicion counts per client key. The verdict is
// monotonic: once a key crosses the threshold it stays dangerous until
// Reset. The scorer is agnostic to what made a hit suspicious; that is
// guard policy.
type Scorer struct {
	source    CountSource
	threshold int

	mu        sync.Mutex
	counts    map[string]int
	primed    map[string]bool
	dangerous map[string]struct{}
}

// NewScorer creates a scorer blacklisting keys at threshold suspicious
// hits.
func NewScorer(source CountSource, threshold int) *Scorer {
	if threshold <= 0 {
		threshold = 5
	}
	return &Scorer{
		source:    source,
		threshold: threshold,
		counts:    make(map[string]int),
		primed:    make(map[string]bool),
		dangerous: make(map[string]struct{}),
	}
}

// IsDangerous reports whether the client key is blacklisted. A store
// read failure is logged and treated as "no history": the blacklist
// check degrades open while the guard's audit append path still fails
// closed.
func (s *Scorer) IsDangerous(ctx context.Context, clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.primeLocked(ctx, clientKey)

	if _, ok := s.dangerous[clientKey]; ok {
		return true
	}
	if s.counts[clientKey] >= s.threshold {
		s.dangerous[clientKey] = struct{}{}
		return true
	}
	return false
}

// RecordSuspicious advances the suspicion counter for a key and returns
// the new count. The caller is responsible for having appended the
// matching audit entry. Priming happens only on the read path: the
// persisted count already includes the entry the caller appended, so
// priming here would count it twice.
func (s *Scorer) RecordSuspicious(ctx context.Context, clientKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[clientKey]++
	count := s.counts[clientKey]
	if count >= s.threshold {
		if _, known := s.dangerous[clientKey]; !known {
			s.dangerous[clientKey] = struct{}{}
			logging.Warn().
				Str("client_key", clientKey).
				Int("suspicious_hits", count).
				Msg("Client key blacklisted")
		}
	}
	return count
}

// DangerousCount returns the number of currently blacklisted keys.
func (s *Scorer) DangerousCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dangerous)
}

// Threshold returns the configured blacklist threshold.
func (s *Scorer) Threshold() int {
	return s.threshold
}

// Reset drops all cached counters and verdicts. Called after an
// administrative purge so state is recomputed from the (now empty)
// audit trail rather than patched in place.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	s.primed = make(map[string]bool)
	s.dangerous = make(map[string]struct{})
}

// primeLocked loads a key's persisted count once. Must be called with
// mu held.
func (s *Scorer) primeLocked(ctx context.Context, clientKey string) {
	if s.primed[clientKey] {
		return
	}

	count, err := s.source.CountSuspicious(ctx, clientKey)
	if err != nil {
		logging.Error().Err(err).Str("client_key", clientKey).Msg("Failed to prime suspicion count")
		return
	}

	s.primed[clientKey] = true
	if count > s.counts[clientKey] {
		s.counts[clientKey] = count
	}
}
