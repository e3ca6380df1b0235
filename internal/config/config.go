// Package config holds the application configuration and the loosely typed
// option bags used by the readers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Generator configures the external fragment-generation service.
type Generator struct {
	// Kind selects the implementation: "http" or "mock".
	// Empty defaults to "mock" unless an API key is present.
	Kind string `json:"kind"`

	BaseURL string `json:"base_url"`
	Model   string `json:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	APIKeyEnv string `json:"api_key_env"`

	// TimeoutSeconds bounds one generation round-trip. Expiry is treated as
	// a recoverable failure (the deterministic fallback chain runs).
	TimeoutSeconds int `json:"timeout_seconds"`

	MaxRetries int `json:"max_retries"`
}

func (g Generator) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Metrics configures the observability backend.
type Metrics struct {
	// Backend is "datadog" or "none".
	Backend string `json:"backend"`
	// Tags are extra backend tags ("env:prod", ...).
	Tags []string `json:"tags"`
	// FlushSeconds overrides the periodic flush interval.
	FlushSeconds int `json:"flush_seconds"`
}

// Config is the root application configuration.
type Config struct {
	Generator Generator `json:"generator"`
	Metrics   Metrics   `json:"metrics"`

	// Reader holds CSV reader options (comma, trim_space, lazy_quotes...).
	Reader Options `json:"reader"`

	// ExportDSN, when set, is the SQLite DSN used by the snapshot exporter.
	ExportDSN string `json:"export_dsn"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		Generator: Generator{
			Kind:           "",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:          "gemini-1.5-flash",
			APIKeyEnv:      "GEMINI_API_KEY",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Metrics: Metrics{Backend: "none"},
		Reader:  Options{"comma": ",", "trim_space": true},
	}
}

// Load reads a JSON config file, filling unset sections from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

// Validate checks a configuration for problems without failing fast, so the
// CLI can print every issue in one pass.
func Validate(cfg Config) []Issue {
	var out []Issue

	switch strings.ToLower(strings.TrimSpace(cfg.Generator.Kind)) {
	case "", "mock", "http":
	default:
		out = append(out, Issue{SeverityError, "generator.kind", fmt.Sprintf("unknown kind %q (want http or mock)", cfg.Generator.Kind)})
	}
	if strings.EqualFold(cfg.Generator.Kind, "http") {
		if strings.TrimSpace(cfg.Generator.BaseURL) == "" {
			out = append(out, Issue{SeverityError, "generator.base_url", "required for http generator"})
		}
		if strings.TrimSpace(cfg.Generator.Model) == "" {
			out = append(out, Issue{SeverityWarning, "generator.model", "empty; the service default model will be used"})
		}
		if cfg.Generator.APIKeyEnv != "" && os.Getenv(cfg.Generator.APIKeyEnv) == "" {
			out = append(out, Issue{SeverityWarning, "generator.api_key_env", fmt.Sprintf("environment variable %s is not set", cfg.Generator.APIKeyEnv)})
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend)) {
	case "", "none", "datadog":
	default:
		out = append(out, Issue{SeverityError, "metrics.backend", fmt.Sprintf("unknown backend %q (want datadog or none)", cfg.Metrics.Backend)})
	}

	return out
}
