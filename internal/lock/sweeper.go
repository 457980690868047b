// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package lock

import (
	"context"
	"time"

	"github.com/assetsentry/assetsentry/internal/logging"
)

// Sweeper periodically reclaims expired lock records. It implements
// suture.Service.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper for the given manager.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{manager: manager, interval: interval}
}

// Serve runs the sweep loop until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.manager.Sweep(); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Swept expired locks")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "lock-sweeper"
}
