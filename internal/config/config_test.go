package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
server_addr = "0.0.0.0:9000"
max_workers = 8
label_prefix = "gate:"
engine_url = "http://engine.internal/analyze"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.ServerAddr != "0.0.0.0:9000" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d", cfg.MaxWorkers)
	}
	if cfg.LabelPrefix != "gate:" {
		t.Errorf("LabelPrefix = %q", cfg.LabelPrefix)
	}
	// Untouched fields keep their defaults
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.MaxRetries)
	}
	if cfg.AnnotationLimit != 50 {
		t.Errorf("AnnotationLimit = %d, want default 50", cfg.AnnotationLimit)
	}
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
store_backend = "postgres"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("postgres backend without postgres_url should fail validation")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"postgres with url", func(c *Config) {
			c.StoreBackend = "postgres"
			c.PostgresURL = "postgres://localhost/mergegate"
		}, false},
		{"unknown backend", func(c *Config) { c.StoreBackend = "dynamo" }, true},
		{"negative workers", func(c *Config) { c.MaxWorkers = -1 }, true},
		{"zero annotation limit", func(c *Config) { c.AnnotationLimit = 0 }, true},
		{"zero comment limit", func(c *Config) { c.CommentLimit = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MERGEGATE_DATA_DIR", dir)
	if got := DataDir(); got != dir {
		t.Errorf("DataDir() = %q, want %q", got, dir)
	}
	if got := GlobalConfigPath(); got != filepath.Join(dir, "config.toml") {
		t.Errorf("GlobalConfigPath() = %q", got)
	}
}
