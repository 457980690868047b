// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package audit

import (
	"context"
	"time"

	"github.com/assetsentry/assetsentry/internal/logging"
)

// RetentionService periodically deletes audit entries older than the
// retention window. It implements suture.Service.
type RetentionService struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewRetentionService creates a retention service keeping entries for
// retentionDays, sweeping every interval.
func NewRetentionService(store Store, retentionDays int, interval time.Duration) *RetentionService {
	return &RetentionService{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Serve runs the cleanup loop until the context is canceled.
func (s *RetentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *RetentionService) runCleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)

	removed, err := s.store.CleanupExpired(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Audit retention cleanup failed")
		return
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("Audit retention cleanup")
	}
}

// String names the service in supervisor logs.
func (s *RetentionService) String() string {
	return "audit-retention"
}
