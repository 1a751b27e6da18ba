// Package config loads process-wide settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the settings read once at process startup.
type Config struct {
	StorageDir   string        // root directory containing all per-session workspaces
	SecretKey    string        // derives WebDAV credentials; "" disables the WebDAV bridge
	Port         string        // HTTP listen port
	Shell        string        // default shell executable for new sessions
	IdleTimeout  time.Duration // duration of no activity before a session is reaped
	ReapInterval time.Duration // cadence of the idle reaper / orphan sweeper
}

// Load reads Config from the environment, applying the same defaults the
// service has always shipped with. It fails fast on a malformed override
// rather than silently falling back.
func Load() (Config, error) {
	cfg := Config{
		StorageDir:   envOr("STORAGE_DIR", "./storage/users"),
		SecretKey:    os.Getenv("SECRET_KEY"),
		Port:         envOr("PORT", "8080"),
		Shell:        envOr("SHELL", "/bin/bash"),
		IdleTimeout:  60 * time.Minute,
		ReapInterval: 60 * time.Second,
	}

	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid IDLE_TIMEOUT %q: %w", v, err)
		}
		cfg.IdleTimeout = d
	}
	if v := os.Getenv("REAP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid REAP_INTERVAL %q: %w", v, err)
		}
		cfg.ReapInterval = d
	}

	abs, err := filepath.Abs(cfg.StorageDir)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve STORAGE_DIR: %w", err)
	}
	cfg.StorageDir = abs

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return Config{}, fmt.Errorf("config: create STORAGE_DIR: %w", err)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PortNum returns Port parsed as an integer, defaulting to 8080 on error.
func (c Config) PortNum() int {
	n, err := strconv.Atoi(c.Port)
	if err != nil {
		return 8080
	}
	return n
}
