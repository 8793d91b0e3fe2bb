// Package config assembles the runtime configuration from the
// environment. Every setting has a default; most deployments only set
// RAMPART_BACKEND_URL.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rampartlabs/rampart/internal/validate"
)

// Environment variable names.
const (
	EnvBackendURL    = "RAMPART_BACKEND_URL"
	EnvDataDir       = "RAMPART_DATA_DIR"
	EnvLogLevel      = "RAMPART_LOG_LEVEL"
	EnvCallTimeout   = "RAMPART_CALL_TIMEOUT"
	EnvLongTimeout   = "RAMPART_LONG_CALL_TIMEOUT"
	EnvCacheTTL      = "RAMPART_CACHE_TTL"
	EnvAuditCapacity = "RAMPART_AUDIT_CAPACITY"
	EnvBatchWindow   = "RAMPART_BATCH_WINDOW"
	EnvBatchMax      = "RAMPART_BATCH_MAX"
)

// DefaultBackendURL is the local agent's WebSocket endpoint.
const DefaultBackendURL = "ws://127.0.0.1:9410/ws"

// Config is the validated runtime configuration. Durations and
// capacities feed the per-package Config structs at composition time.
// CacheTTL bounds how long fetched backend collections are reused.
type Config struct {
	BackendURL    string        `validate:"required,url"`
	DataDir       string        `validate:"required"`
	LogLevel      string        `validate:"oneof=debug info warn error"`
	CallTimeout   time.Duration `validate:"gt=0"`
	LongTimeout   time.Duration `validate:"gt=0"`
	CacheTTL      time.Duration `validate:"gt=0"`
	AuditCapacity int           `validate:"gt=0"`
	BatchWindow   time.Duration `validate:"gt=0"`
	BatchMax      int           `validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackendURL:    DefaultBackendURL,
		DataDir:       DefaultDataDir(),
		LogLevel:      "info",
		CallTimeout:   2 * time.Minute,
		LongTimeout:   10 * time.Minute,
		CacheTTL:      60 * time.Second,
		AuditCapacity: 10000,
		BatchWindow:   25 * time.Millisecond,
		BatchMax:      32,
	}
}

// Load overlays environment variables on the defaults and validates the
// result. Malformed numeric or duration values fall back to the default
// for that setting.
func Load() (Config, error) {
	def := Default()
	cfg := Config{
		BackendURL:    envOrDefault(EnvBackendURL, def.BackendURL),
		DataDir:       envOrDefault(EnvDataDir, def.DataDir),
		LogLevel:      envOrDefault(EnvLogLevel, def.LogLevel),
		CallTimeout:   envOrDefaultDuration(EnvCallTimeout, def.CallTimeout),
		LongTimeout:   envOrDefaultDuration(EnvLongTimeout, def.LongTimeout),
		CacheTTL:      envOrDefaultDuration(EnvCacheTTL, def.CacheTTL),
		AuditCapacity: envOrDefaultInt(EnvAuditCapacity, def.AuditCapacity),
		BatchWindow:   envOrDefaultDuration(EnvBatchWindow, def.BatchWindow),
		BatchMax:      envOrDefaultInt(EnvBatchMax, def.BatchMax),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. Failures are *domain.ValidationError.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// DefaultDataDir resolves where the archive and its key live: root
// installs under /var/lib, everyone else under their home directory.
func DefaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/rampart"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rampart")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
