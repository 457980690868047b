// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package config loads and validates AssetSentry configuration.
//
// Configuration is layered with koanf: built-in defaults, then an
// optional YAML file, then ASSETSENTRY_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Guard    GuardConfig    `koanf:"guard"`
	Lock     LockConfig     `koanf:"lock"`
	Threat   ThreatConfig   `koanf:"threat"`
	Audit    AuditConfig    `koanf:"audit"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// GuardConfig holds download-guard policy settings.
type GuardConfig struct {
	// LockDeniedSuspicious controls whether a lock-contention denial
	// counts toward the client's suspicion score.
	LockDeniedSuspicious bool `koanf:"lock_denied_suspicious"`
}

// LockConfig holds lock-manager settings.
type LockConfig struct {
	// TTL is how long an unreleased lock stays live. It must cover a
	// normal transfer but stay short enough to self-heal from crashes.
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

// ThreatConfig holds threat-scorer settings.
type ThreatConfig struct {
	// Threshold is the suspicious-hit count at which a client key is
	// blacklisted until an administrative purge.
	Threshold int `koanf:"threshold" validate:"gt=0"`
}

// AuditConfig holds audit-log settings.
type AuditConfig struct {
	// Store selects the backing store: memory or badger.
	Store           string        `koanf:"store" validate:"oneof=memory badger"`
	Path            string        `koanf:"path"`
	MaxEntries      int           `koanf:"max_entries" validate:"gt=0"`
	RetentionDays   int           `koanf:"retention_days" validate:"gt=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// DeliveryConfig holds asset-delivery settings.
type DeliveryConfig struct {
	// Root is the directory holding protected assets.
	Root string `koanf:"root" validate:"required"`

	// BandwidthLimit caps each download in bytes per second. 0 disables
	// throttling.
	BandwidthLimit int `koanf:"bandwidth_limit" validate:"min=0"`
	BurstSize      int `koanf:"burst_size" validate:"min=0"`
}

// SecurityConfig holds security-related settings for the HTTP surface.
type SecurityConfig struct {
	// AdminJWTSecret signs bearer tokens for the admin endpoints.
	// Empty disables the admin API entirely.
	AdminJWTSecret string `koanf:"admin_jwt_secret"`

	// TrustedProxies lists CIDRs whose forwarding headers are honored
	// during client-key resolution.
	TrustedProxies []string `koanf:"trusted_proxies"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests/Window bound the reporting API per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gt=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`

	// DownloadRateLimit/Window bound the download endpoint per client IP,
	// independent of the guard's own lock-based throttling.
	DownloadRateLimit  int           `koanf:"download_rate_limit" validate:"gt=0"`
	DownloadRateWindow time.Duration `koanf:"download_rate_window" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8486,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    10 * time.Minute, // long enough for slow downloads
			ShutdownTimeout: 10 * time.Second,
		},
		Guard: GuardConfig{
			LockDeniedSuspicious: false,
		},
		Lock: LockConfig{
			TTL:           30 * time.Second,
			SweepInterval: 1 * time.Minute,
		},
		Threat: ThreatConfig{
			Threshold: 5,
		},
		Audit: AuditConfig{
			Store:           "badger",
			Path:            "/data/audit",
			MaxEntries:      10000,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			Root:           "/data/assets",
			BandwidthLimit: 0,
			BurstSize:      256 * 1024,
		},
		Security: SecurityConfig{
			AdminJWTSecret:     "",
			TrustedProxies:     []string{},
			CORSOrigins:        []string{"*"},
			RateLimitRequests:  300,
			RateLimitWindow:    1 * time.Minute,
			DownloadRateLimit:  60,
			DownloadRateWindow: 1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Audit.Store == "badger" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit.store is badger")
	}

	return nil
}
