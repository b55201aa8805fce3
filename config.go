package keyrelay

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultName is the provider name used when none is configured. It is
	// also the property value the isolated environment excludes.
	DefaultName = "keyrelay"

	DefaultAuditBuffer = 256
)

var ErrInvalidName = errors.New("keyrelay: provider name must be non-empty and free of property syntax")

// Config holds provider initialization settings.
type Config struct {
	Name        string                // provider name advertised to the host
	Logger      *slog.Logger          // optional: defaults to slog.Default()
	AuditBuffer int                   // audit journal buffer size
	AuditOutput io.Writer             // optional: journal write target
	Metrics     prometheus.Registerer // optional: metrics registration target
}

// WithDefaults returns Config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.AuditBuffer == 0 {
		c.AuditBuffer = DefaultAuditBuffer
	}
	return c
}

// Validate checks the configuration. The provider name participates in
// property query strings, so property metacharacters are rejected.
func (c *Config) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, "!=, ") {
		return ErrInvalidName
	}
	return nil
}

// ConfigFromEnv builds a Config from environment variables:
// KEYRELAY_NAME, KEYRELAY_AUDIT_BUFFER, KEYRELAY_AUDIT_LOG (a file path;
// empty keeps the journal in memory only).
func ConfigFromEnv() Config {
	cfg := Config{
		Name:        envOr("KEYRELAY_NAME", DefaultName),
		AuditBuffer: envInt("KEYRELAY_AUDIT_BUFFER", DefaultAuditBuffer),
	}
	if path := os.Getenv("KEYRELAY_AUDIT_LOG"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			cfg.AuditOutput = f
		} else {
			slog.Warn("audit log open failed, journaling in memory only", "path", path, "error", err)
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
