// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package config provides process-level configuration for Pulsefeed.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables > config file > built-in defaults.
//
// This package configures the process (ports, paths, intervals, secrets).
// Ranking parameters live in the DB-backed RecoConfig registry and are
// hot-activated at runtime; they are deliberately NOT part of this package.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	Feed     FeedConfig     `koanf:"feed"`
	Graph    GraphConfig    `koanf:"graph"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// NATSConfig holds NATS JetStream settings for the interaction event stream.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	StreamName       string        `koanf:"stream_name"`
	RetentionDays    int           `koanf:"retention_days"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	JWTSecret     string        `koanf:"jwt_secret"`
	AdminUsername string        `koanf:"admin_username"`
	AdminPassword string        `koanf:"admin_password"`
	TokenTTL      time.Duration `koanf:"token_ttl"`

	// Global API rate limit (per client IP).
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// Engagement toggle rate limit (per user per item).
	ToggleRatePerSecond float64 `koanf:"toggle_rate_per_second"`
	ToggleBurst         int     `koanf:"toggle_burst"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// FeedConfig holds feed engine scheduling settings. These drive the
// background services, not the ranking formula (which is RecoConfig).
type FeedConfig struct {
	// Environment selects which RecoConfig environment row is active
	// for this deployment (e.g. "production", "staging").
	Environment string `koanf:"environment"`

	AggregateRefreshInterval time.Duration `koanf:"aggregate_refresh_interval"`
	ImpressionPruneInterval  time.Duration `koanf:"impression_prune_interval"`
	ImpressionRetentionDays  int           `koanf:"impression_retention_days"`
	ReconcileSweepInterval   time.Duration `koanf:"reconcile_sweep_interval"`
	RequestTimeout           time.Duration `koanf:"request_timeout"`
}

// GraphConfig holds graph-proximity cache settings.
type GraphConfig struct {
	Path            string        `koanf:"path"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all sensible default values.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8480,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:                   "/data/pulsefeed.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: true,
		},
		NATS: NATSConfig{
			Enabled:          true,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        1 << 30,  // 1GB
			MaxStore:         10 << 30, // 10GB
			StreamName:       "ENGAGEMENT",
			RetentionDays:    7,
			DurableName:      "engagement-processor",
			QueueGroup:       "processors",
			SubscribersCount: 4,
			AckWaitTimeout:   30 * time.Second,
			MaxDeliver:       5,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:           "",
			AdminUsername:       "",
			AdminPassword:       "",
			TokenTTL:            24 * time.Hour,
			RateLimitReqs:       100,
			RateLimitWindow:     time.Minute,
			ToggleRatePerSecond: 1,
			ToggleBurst:         1,
			CORSOrigins:         []string{"*"},
		},
		Feed: FeedConfig{
			Environment:              "production",
			AggregateRefreshInterval: 5 * time.Minute,
			ImpressionPruneInterval:  24 * time.Hour,
			ImpressionRetentionDays:  90,
			ReconcileSweepInterval:   time.Hour,
			RequestTimeout:           10 * time.Second,
		},
		Graph: GraphConfig{
			Path:            "/data/graph",
			RefreshInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Feed.Environment == "" {
		return fmt.Errorf("feed.environment must not be empty")
	}
	if c.Feed.ImpressionRetentionDays < 1 {
		return fmt.Errorf("feed.impression_retention_days must be positive, got %d", c.Feed.ImpressionRetentionDays)
	}
	if c.Security.ToggleRatePerSecond <= 0 {
		return fmt.Errorf("security.toggle_rate_per_second must be positive, got %f", c.Security.ToggleRatePerSecond)
	}
	if c.Security.ToggleBurst < 1 {
		return fmt.Errorf("security.toggle_burst must be positive, got %d", c.Security.ToggleBurst)
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty when nats is enabled")
	}
	return nil
}
