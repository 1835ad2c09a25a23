// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) to build a Config with defaults.
// - Load layers defaults, an optional YAML file, and environment variables.
// - External errors must be wrapped via this package's error helpers.
package config

import "runtime"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory derivation queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of derivation workers (queue shards).
	WorkerCount int `koanf:"worker_count"`

	// MaxHistoryLimit caps the number of events returned by history queries.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// MaxCheckMismatches caps the mismatches tolerated in a consistency run;
	// exceeding the cap fails the run with no report persisted.
	// Zero means unlimited.
	MaxCheckMismatches int `koanf:"max_check_mismatches"`

	// AuthDisabled makes the boundary hand every request a dev admin
	// identity. Local development only.
	AuthDisabled bool `koanf:"auth_disabled"`

	// AuthOpenAll disables role enforcement at the boundary while still
	// decoding identities from tokens.
	AuthOpenAll bool `koanf:"auth_open_all"`

	// AuthJWTSecret is the HS256 signing secret for bearer tokens.
	AuthJWTSecret string `koanf:"auth_jwt_secret"`

	// AuthJWTIssuer optionally pins the expected token issuer.
	AuthJWTIssuer string `koanf:"auth_jwt_issuer"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		QueueSize:          100_000,
		WorkerCount:        runtime.NumCPU() * 2,
		MaxHistoryLimit:    500,
		MaxCheckMismatches: 0,
		AuthDisabled:       false,
		AuthOpenAll:        false,
		AuthJWTSecret:      "dev-secret-change-me",
		AuthJWTIssuer:      "",
	}
}
