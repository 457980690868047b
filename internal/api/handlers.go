// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetsentry/assetsentry/internal/audit"
	"github.com/assetsentry/assetsentry/internal/clientip"
	"github.com/assetsentry/assetsentry/internal/delivery"
	"github.com/assetsentry/assetsentry/internal/guard"
	"github.com/assetsentry/assetsentry/internal/logging"
	"github.com/assetsentry/assetsentry/internal/threat"
)

// historyMaxLimit caps the page size of the audit history endpoint.
const historyMaxLimit = 500

// Guard is the decision pipeline consumed by the download handler.
type Guard interface {
	Decide(ctx context.Context, req guard.Request) (*guard.Decision, error)
}

// LockStats exposes the lock counters used by reporting.
type LockStats interface {
	ActiveCount() int
}

// Handler implements the HTTP endpoints.
type Handler struct {
	guard    Guard
	store    audit.Store
	locks    LockStats
	scorer   *threat.Scorer
	catalog  delivery.Catalog
	streamer *delivery.Streamer
	resolver *clientip.Resolver
}

// NewHandler wires the endpoint dependencies.
func NewHandler(g Guard, store audit.Store, locks LockStats, scorer *threat.Scorer, catalog delivery.Catalog, streamer *delivery.Streamer, resolver *clientip.Resolver) *Handler {
	return &Handler{
		guard:    g,
		store:    store,
		locks:    locks,
		scorer:   scorer,
		catalog:  catalog,
		streamer: streamer,
		resolver: resolver,
	}
}

// Download serves GET /assets/*. The asset path is resolved first so a
// typo returns a plain 404 without consuming a lock or an audit entry;
// only real assets reach the guard.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	assetID := chi.URLParam(r, "*")
	asset, err := h.catalog.Lookup(assetID)
	if err != nil {
		if errors.Is(err, delivery.ErrAssetNotFound) {
			rw.NotFound("asset not found")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("asset_id", assetID).Msg("Catalog lookup failed")
		rw.InternalError("catalog lookup failed")
		return
	}

	clientKey := h.resolver.Resolve(r)
	decision, err := h.guard.Decide(r.Context(), guard.Request{
		ClientKey:    clientKey,
		AssetID:      asset.ID,
		AssetVersion: asset.Version,
		UserID:       r.Header.Get("X-User-ID"),
	})
	if err != nil {
		// Audit persistence is down: deny rather than deliver an
		// unrecorded download.
		rw.ServiceUnavailable("download temporarily unavailable")
		return
	}

	switch decision.Outcome {
	case audit.OutcomeDeniedBlacklist:
		rw.Forbidden("client is blacklisted")
		return
	case audit.OutcomeDeniedLock:
		rw.TooManyRequests("a download is already in progress for this client", decision.RetryAfter)
		return
	}

	// The release runs on every exit path, including client
	// disconnects mid-copy.
	defer decision.Release()

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	w.Header().Set("X-Asset-Version", asset.Version)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filenameFor(asset.ID)))

	written, err := h.streamer.Stream(r.Context(), w, asset)
	if err != nil {
		// The status line is already on the wire. Log and let the
		// truncated body signal the failure to the client.
		logging.Ctx(r.Context()).Warn().
			Err(err).
			Str("asset_id", asset.ID).
			Str("client_key", clientKey).
			Int64("bytes_written", written).
			Msg("Download aborted mid-stream")
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("asset_id", asset.ID).
		Str("asset_version", asset.Version).
		Str("client_key", clientKey).
		Int64("bytes", written).
		Msg("Download completed")
}

// ReportStats serves GET /api/v1/reports/stats.
func (h *Handler) ReportStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	total, err := h.store.Count(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Audit count failed")
		rw.InternalError("failed to read audit trail")
		return
	}

	rw.Success(map[string]interface{}{
		"audit_entries":       total,
		"active_locks":        h.locks.ActiveCount(),
		"blacklisted_clients": h.scorer.DangerousCount(),
		"threat_threshold":    h.scorer.Threshold(),
	})
}

// ReportHistory serves GET /api/v1/reports/history: the audit trail
// most-recent-first, filterable by client_key, outcome and suspicious.
func (h *Handler) ReportHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := historyFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	entries, err := h.store.Query(r.Context(), filter)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Audit query failed")
		rw.InternalError("failed to read audit trail")
		return
	}

	rw.SuccessWithPagination(entries, &PaginationMeta{
		Count:   len(entries),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: len(entries) == filter.Limit,
	})
}

// AdminPurge serves POST /api/v1/admin/purge: clears the audit trail
// and resets threat state, rehabilitating blacklisted clients.
func (h *Handler) AdminPurge(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	before, err := h.store.Count(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Audit count failed")
		rw.InternalError("failed to read audit trail")
		return
	}

	if err := h.store.PurgeAll(r.Context()); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Audit purge failed")
		rw.InternalError("failed to purge audit trail")
		return
	}
	h.scorer.Reset()

	logging.Ctx(r.Context()).Info().
		Int64("purged_entries", before).
		Msg("Audit trail purged and threat state reset")

	rw.Success(map[string]interface{}{
		"purged_entries": before,
	})
}

// HealthLive serves GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady serves GET /api/v1/health/ready. Readiness requires the
// audit store to answer, since the guard fails closed without it.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.Count(ctx); err != nil {
		rw.ServiceUnavailable("audit store unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// historyFilter parses query parameters into an audit filter.
func historyFilter(r *http.Request) (audit.Filter, error) {
	filter := audit.DefaultFilter()
	q := r.URL.Query()

	filter.ClientKey = q.Get("client_key")

	if v := q.Get("outcome"); v != "" {
		switch outcome := audit.Outcome(v); outcome {
		case audit.OutcomeAllowed, audit.OutcomeDeniedLock, audit.OutcomeDeniedBlacklist:
			filter.Outcome = outcome
		default:
			return filter, fmt.Errorf("unknown outcome %q", v)
		}
	}

	if v := q.Get("suspicious"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid suspicious value %q", v)
		}
		filter.Suspicious = &b
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		if n > historyMaxLimit {
			n = historyMaxLimit
		}
		filter.Limit = n
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}

	return filter, nil
}

// filenameFor derives the attachment filename from an asset path.
func filenameFor(assetID string) string {
	for i := len(assetID) - 1; i >= 0; i-- {
		if assetID[i] == '/' {
			return assetID[i+1:]
		}
	}
	return assetID
}
