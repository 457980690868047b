// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package lock provides the per-client download lock table.
//
// A Lock grants exclusive access to the download pipeline for one
// client key. Expiry is passive: a lock past its deadline is treated as
// absent by every read, so a crashed request self-heals after the TTL
// with no background work required. The periodic sweep only reclaims
// memory.
package lock

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrLockHeld is returned by Acquire when a live lock already exists
// for the client key. It is a control-flow signal, not a fault.
var ErrLockHeld = errors.New("an active download lock is already held for this client")

// Lock records exclusive download access for one client key.
type Lock struct {
	ClientKey  string    `json:"client_key"`
	AssetID    string    `json:"asset_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// shardCount spreads keys over independent mutexes so unrelated client
// keys never contend. Must be a power of two.
const shardCount = 64

type shard struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// Manager owns the lock table. The check-and-set in Acquire is atomic
// per shard; no lock is held while bytes are streamed.
type Manager struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard
}

// NewManager creates a lock manager with the given TTL.
func NewManager(ttl time.Duration) *Manager {
	m := &Manager{
		ttl: ttl,
		now: time.Now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{locks: make(map[string]*Lock)}
	}
	return m
}

// shardFor hashes a client key to its shard.
func (m *Manager) shardFor(clientKey string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientKey))
	return m.shards[h.Sum32()&(shardCount-1)]
}

// Acquire atomically checks for a live lock and inserts a new one.
// Exactly one of two concurrent calls for the same key succeeds; the
// other receives ErrLockHeld. An expired lock is overwritten as if
// absent.
func (m *Manager) Acquire(clientKey, assetID string) (*Lock, error) {
	now := m.now()
	sh := m.shardFor(clientKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.locks[clientKey]; ok && now.Before(existing.ExpiresAt) {
		return nil, ErrLockHeld
	}

	lk := &Lock{
		ClientKey:  clientKey,
		AssetID:    assetID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	sh.locks[clientKey] = lk
	return lk, nil
}

// Release removes a lock record, but only the exact record that was
// acquired. A stale release arriving after the record expired and the
// key was reacquired leaves the successor's live lock untouched.
// Idempotent: releasing an absent, expired or superseded lock is a
// no-op, never an error, so overlapping exit paths are harmless.
func (m *Manager) Release(lk *Lock) {
	if lk == nil {
		return
	}
	sh := m.shardFor(lk.ClientKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if current, ok := sh.locks[lk.ClientKey]; ok && current == lk {
		delete(sh.locks, lk.ClientKey)
	}
}

// Active reports whether a non-expired lock exists for the key.
func (m *Manager) Active(clientKey string) bool {
	now := m.now()
	sh := m.shardFor(clientKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	lk, ok := sh.locks[clientKey]
	return ok && now.Before(lk.ExpiresAt)
}

// Remaining returns how long the client's lock has left to live, or
// zero when no live lock exists. Used for Retry-After hints.
func (m *Manager) Remaining(clientKey string) time.Duration {
	now := m.now()
	sh := m.shardFor(clientKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	lk, ok := sh.locks[clientKey]
	if !ok || !now.Before(lk.ExpiresAt) {
		return 0
	}
	return lk.ExpiresAt.Sub(now)
}

// ActiveCount returns the number of currently live locks.
func (m *Manager) ActiveCount() int {
	now := m.now()
	count := 0

	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, lk := range sh.locks {
			if now.Before(lk.ExpiresAt) {
				count++
			}
		}
		sh.mu.Unlock()
	}
	return count
}

// Snapshot returns copies of all live locks, for the reporting API.
func (m *Manager) Snapshot() []Lock {
	now := m.now()
	var out []Lock

	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, lk := range sh.locks {
			if now.Before(lk.ExpiresAt) {
				out = append(out, *lk)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Sweep removes expired lock records and returns how many were
// reclaimed. Correctness never depends on it running.
func (m *Manager) Sweep() int {
	now := m.now()
	removed := 0

	for _, sh := range m.shards {
		sh.mu.Lock()
		for key, lk := range sh.locks {
			if !now.Before(lk.ExpiresAt) {
				delete(sh.locks, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
