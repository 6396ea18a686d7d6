package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/alerting"
)

// Config represents the top-level application config plus resolved alert rules.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Auth     AuthConfig     `koanf:"auth"`
	Alerting AlertingConfig `koanf:"alerting"`

	// AlertRules is populated by Load after parsing rule files.
	AlertRules []alerting.Rule `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ArchiveConfig struct {
	RootDir string `koanf:"root_dir"`
}

// RealtimeConfig tunes the live aggregation windows.
type RealtimeConfig struct {
	WindowMs int64 `koanf:"window_ms"`
	MaxBatch int   `koanf:"max_batch"`
}

type AuthConfig struct {
	TokenTTL string `koanf:"token_ttl"` // parsed and validated on startup
}

type AlertingConfig struct {
	ConfigDir string `koanf:"config_dir"`
	Enabled   bool   `koanf:"enabled"`
}

// TokenTTLDuration returns the parsed token cache TTL. Validate has already
// checked it parses.
func (c AuthConfig) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return time.Minute
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Archive.RootDir) == "" {
		return fmt.Errorf("archive.root_dir is required")
	}

	if c.Realtime.WindowMs <= 0 {
		return fmt.Errorf("realtime.window_ms must be > 0")
	}
	if c.Realtime.MaxBatch <= 0 {
		return fmt.Errorf("realtime.max_batch must be > 0")
	}

	ttl, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("invalid auth.token_ttl %q: %w", c.Auth.TokenTTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.Alerting.Enabled && strings.TrimSpace(c.Alerting.ConfigDir) == "" {
		return fmt.Errorf("alerting.config_dir is required when alerting is enabled")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads alert rules.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.type":           "postgres",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"archive.root_dir":        "./data/archive",
		"realtime.window_ms":      1000,
		"realtime.max_batch":      128,
		"auth.token_ttl":          "60s",
		"alerting.config_dir":     "./config/alerts",
		"alerting.enabled":        true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("PULSEGRID_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PULSEGRID_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Alerting.Enabled {
		repo, err := alerting.NewFileSystemRuleRepository(cfg.Alerting.ConfigDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load alert rules: %w", err)
		}
		cfg.AlertRules = repo.GetRules()
	}

	return &cfg, nil
}
