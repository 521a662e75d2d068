package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PIM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "PIM_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PIM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "site.base_url", typ: kString, env: "PIM_SITE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Site.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Site.BaseURL },
	},
	{
		key: "site.category_base", typ: kString, env: "PIM_SITE_CATEGORY_BASE",
		apply:   func(cfg *Config, v any) { cfg.Site.CategoryBase = v.(string) },
		extract: func(cfg Config) any { return cfg.Site.CategoryBase },
	},
	{
		key: "batch.limit", typ: kInt, env: "PIM_BATCH_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Batch.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Limit },
	},
	{
		key: "batch.auto_run", typ: kBool, env: "PIM_BATCH_AUTO_RUN",
		apply:   func(cfg *Config, v any) { cfg.Batch.AutoRun = v.(bool) },
		extract: func(cfg Config) any { return cfg.Batch.AutoRun },
	},
	{
		key: "batch.auto_interval", typ: kString, env: "PIM_BATCH_AUTO_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Batch.AutoInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Batch.AutoInterval },
	},
	{
		key: "log.level", typ: kString, env: "PIM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text to the Go type the key's apply func expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ == kBool && raw == "") {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies every non-empty PIM_* variable. Values that do
// not parse are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment variable, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
