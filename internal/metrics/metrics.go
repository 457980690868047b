// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package metrics provides Prometheus instrumentation for the guard
// pipeline: decisions, lock table occupancy, blacklist size, audit
// durability, and delivery throughput.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts guard decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Total number of download guard decisions",
		},
		[]string{"outcome"},
	)

	// ActiveLocks tracks the current number of live download locks.
	ActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_active_locks",
			Help: "Current number of live download locks",
		},
	)

	// BlacklistedClients tracks the current number of blacklisted keys.
	BlacklistedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_blacklisted_clients",
			Help: "Current number of blacklisted client keys",
		},
	)

	// AuditWriteErrors counts failed audit appends. Every one of these
	// denied a download (the guard fails closed).
	AuditWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_audit_write_errors_total",
			Help: "Total number of failed audit trail writes",
		},
	)

	// DownloadsInFlight tracks downloads currently streaming.
	DownloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_downloads_in_flight",
			Help: "Number of downloads currently streaming",
		},
	)

	// DownloadBytesTotal counts bytes streamed to clients.
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_bytes_total",
			Help: "Total bytes streamed to clients",
		},
	)

	// DownloadDuration observes end-to-end download duration.
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_download_duration_seconds",
			Help:    "Duration of completed downloads in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)
)

// RecordDecision increments the decision counter for an outcome.
func RecordDecision(outcome string) {
	DecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload records a completed (or aborted) stream.
func RecordDownload(bytes int64, duration time.Duration) {
	DownloadBytesTotal.Add(float64(bytes))
	DownloadDuration.Observe(duration.Seconds())
}
