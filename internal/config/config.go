package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration
type Config struct {
	ServerAddr string `toml:"server_addr"`
	MaxWorkers int    `toml:"max_workers"`

	// Store backend: "sqlite" (default) or "postgres"
	StoreBackend string `toml:"store_backend"`
	PostgresURL  string `toml:"postgres_url"`

	// Hosting platform
	GitHubToken   string `toml:"github_token"`
	GitHubBaseURL string `toml:"github_base_url"`

	// Analysis engine
	EngineURL            string `toml:"engine_url"`
	EngineTimeoutSeconds int    `toml:"engine_timeout_seconds"`

	// Task processing
	MaxRetries         int `toml:"max_retries"`
	TaskTimeoutMinutes int `toml:"task_timeout_minutes"`
	LeaseSeconds       int `toml:"lease_seconds"`

	// Remote surfaces
	LabelPrefix     string `toml:"label_prefix"`
	AnnotationLimit int    `toml:"annotation_limit"`
	CommentLimit    int    `toml:"comment_limit"`

	// Terminal task retention
	CompletedTTLHours int `toml:"completed_ttl_hours"`
	FailedTTLHours    int `toml:"failed_ttl_hours"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:           "127.0.0.1:7474",
		MaxWorkers:           4,
		StoreBackend:         "sqlite",
		EngineTimeoutSeconds: 120,
		MaxRetries:           3,
		TaskTimeoutMinutes:   10,
		LeaseSeconds:         900,
		LabelPrefix:          "compliance:",
		AnnotationLimit:      50,
		CommentLimit:         50,
		CompletedTTLHours:    24,
		FailedTTLHours:       7 * 24,
	}
}

// DataDir returns the mergegate data directory.
// Uses MERGEGATE_DATA_DIR env var if set, otherwise ~/.mergegate
func DataDir() string {
	if dir := os.Getenv("MERGEGATE_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mergegate")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load loads configuration from the default path
func Load() (*Config, error) {
	return LoadFrom(GlobalConfigPath())
}

// LoadFrom loads configuration from a specific path. A missing file
// yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration values that would misbehave at runtime
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "", "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("store_backend is postgres but postgres_url is empty")
		}
	default:
		return fmt.Errorf("unknown store_backend %q", c.StoreBackend)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be >= 0")
	}
	if c.AnnotationLimit < 1 {
		return fmt.Errorf("annotation_limit must be >= 1")
	}
	if c.CommentLimit < 1 {
		return fmt.Errorf("comment_limit must be >= 1")
	}
	return nil
}

// Save writes the configuration to the global config path
func Save(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
