package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") err=%v", err)
	}
	if cfg.Generator.Timeout() != 30*time.Second {
		t.Errorf("default generator timeout=%v, want 30s", cfg.Generator.Timeout())
	}
	if cfg.Metrics.Backend != "none" {
		t.Errorf("default metrics backend=%q, want none", cfg.Metrics.Backend)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	body := `{
		"generator": {"kind": "http", "base_url": "http://localhost:9999", "timeout_seconds": 5},
		"metrics": {"backend": "datadog", "tags": ["env:test"]}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Generator.Kind != "http" || cfg.Generator.BaseURL != "http://localhost:9999" {
		t.Errorf("generator not loaded: %+v", cfg.Generator)
	}
	if cfg.Generator.Timeout() != 5*time.Second {
		t.Errorf("timeout=%v, want 5s", cfg.Generator.Timeout())
	}
	if cfg.Metrics.Backend != "datadog" {
		t.Errorf("metrics backend=%q, want datadog", cfg.Metrics.Backend)
	}
}

func TestLoadBadJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load(bad json) err=nil, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(*Config)
		wantErrors int
	}{
		{"defaults are clean", func(c *Config) {}, 0},
		{"unknown generator kind", func(c *Config) { c.Generator.Kind = "grpc" }, 1},
		{"http without base url", func(c *Config) {
			c.Generator.Kind = "http"
			c.Generator.BaseURL = ""
			c.Generator.APIKeyEnv = ""
		}, 1},
		{"unknown metrics backend", func(c *Config) { c.Metrics.Backend = "statsd" }, 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			var errs int
			for _, is := range Validate(cfg) {
				if is.Severity == SeverityError {
					errs++
				}
			}
			if errs != tc.wantErrors {
				t.Errorf("Validate() errors=%d, want %d (issues=%v)", errs, tc.wantErrors, Validate(cfg))
			}
		})
	}
}
