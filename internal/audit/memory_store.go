// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	entries []Entry
	mu      sync.RWMutex
	maxLen  int
	closed  bool
}

// NewMemoryStore creates a new in-memory audit store holding at most
// maxLen entries.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		entries: make([]Entry, 0, maxLen),
		maxLen:  maxLen,
	}
}

// Append persists an audit entry.
func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Enforce max length by dropping the oldest 10%.
	if len(s.entries) >= s.maxLen {
		removeCount := s.maxLen / 10
		if removeCount == 0 {
			removeCount = 1
		}
		s.entries = s.entries[removeCount:]
	}

	s.entries = append(s.entries, *entry)
	return nil
}

// Query retrieves entries matching the filter, most-recent-first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var results []Entry
	skipped := 0

	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if !filter.matches(&entry) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, entry)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}

	return results, nil
}

// Count returns the number of retained entries.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.entries)), nil
}

// CountSuspicious returns the suspicious-entry count for a client key.
func (s *MemoryStore) CountSuspicious(ctx context.Context, clientKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	count := 0
	for i := range s.entries {
		if s.entries[i].ClientKey == clientKey && s.entries[i].Suspicious {
			count++
		}
	}
	return count, nil
}

// PurgeAll removes every entry.
func (s *MemoryStore) PurgeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries = s.entries[:0]
	return nil
}

// CleanupExpired removes entries older than the cutoff.
func (s *MemoryStore) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	// Entries are appended in time order, so find the first survivor.
	idx := 0
	for idx < len(s.entries) && s.entries[idx].Timestamp.Before(before) {
		idx++
	}
	removed := idx
	s.entries = append(s.entries[:0], s.entries[idx:]...)
	return removed, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
