package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Site    SiteConfig
	Batch   BatchConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

// SiteConfig controls how category links are built.
type SiteConfig struct {
	BaseURL      string
	CategoryBase string
}

type BatchConfig struct {
	Limit        int
	AutoRun      bool
	AutoInterval string
}

type LogConfig struct {
	Level string
}

// AutoIntervalDuration parses Batch.AutoInterval.
func (c BatchConfig) AutoIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.AutoInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid batch.auto_interval %q: %w", c.AutoInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid batch.auto_interval %q: must be positive", c.AutoInterval)
	}
	return d, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Site: SiteConfig{
			BaseURL:      "http://localhost",
			CategoryBase: "category",
		},
		Batch: BatchConfig{
			Limit:        100,
			AutoInterval: "1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file and environment
// variables, then resolves the API token.
//
// The config file lives at $XDG_CONFIG_HOME/pim/config.json. Environment
// variables (PIM_*) override file values. The API token comes from
// PIM_API_TOKEN or the secrets file; if neither has one, a new token is
// generated and saved to the secrets file.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Batch.Limit < 1 {
		return Config{}, fmt.Errorf("invalid batch.limit %d: must be at least 1", cfg.Batch.Limit)
	}
	if _, err := cfg.Batch.AutoIntervalDuration(); err != nil {
		return Config{}, err
	}

	if cfg.Server.APIToken == "" {
		if tok, err := secrets.Get(secretService, secretAPITokenID); err == nil && strings.TrimSpace(tok) != "" {
			cfg.Server.APIToken = strings.TrimSpace(tok)
		}
	}
	if cfg.Server.APIToken == "" {
		tok := uuid.New().String()
		if err := secrets.Set(secretService, secretAPITokenID, tok); err != nil {
			return Config{}, fmt.Errorf("saving generated API token: %w. Set it via environment variable PIM_API_TOKEN", err)
		}
		cfg.Server.APIToken = tok
	}

	return cfg, nil
}
