// Package config loads gateway configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Insights InsightsConfig `yaml:"insights"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	// Addr serves the public B2B gateway.
	Addr string `yaml:"addr" env:"SERVER_ADDR"`
	// AdminAddr serves the back-office API and metrics.
	AdminAddr string `yaml:"admin_addr" env:"ADMIN_ADDR"`
}

type StorageConfig struct {
	// Backend selects the store: memory, postgres, or supabase.
	Backend     string `yaml:"backend" env:"STORAGE_BACKEND"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	SupabaseURL    string `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey    string `yaml:"supabase_key" env:"SUPABASE_SERVICE_KEY"`
	SupabaseSchema string `yaml:"supabase_schema" env:"SUPABASE_SCHEMA"`
}

type AuthConfig struct {
	// JWTSecret signs admin session tokens. Required when the admin API is
	// exposed beyond localhost.
	JWTSecret string `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	// BootstrapUser and BootstrapPassword seed the first admin login.
	BootstrapUser     string `yaml:"bootstrap_user" env:"ADMIN_BOOTSTRAP_USER"`
	BootstrapPassword string `yaml:"bootstrap_password" env:"ADMIN_BOOTSTRAP_PASSWORD"`
}

type GatewayConfig struct {
	// CORSOrigins is a comma-separated origin allowlist; empty allows any.
	CORSOrigins string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// AuditLogPath appends admin audit entries as JSONL when set.
	AuditLogPath string `yaml:"audit_log_path" env:"AUDIT_LOG_PATH"`
}

type InsightsConfig struct {
	// RefreshSchedule is a cron spec for the insights aggregator.
	RefreshSchedule string `yaml:"refresh_schedule" env:"INSIGHTS_REFRESH_SCHEDULE"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load reads config/gateway.yaml if present, then applies environment
// overrides. A .env file in the working directory is honoured.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "gateway.yaml"))
}

// LoadFromPath behaves like Load with an explicit YAML path. A missing file
// is not an error; the environment alone is enough to run.
func LoadFromPath(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fall through to env-only configuration.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.AdminAddr == "" {
		c.Server.AdminAddr = ":8081"
	}
	if c.Storage.SupabaseSchema == "" {
		c.Storage.SupabaseSchema = "public"
	}
	if c.Auth.BootstrapUser == "" {
		c.Auth.BootstrapUser = "admin"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "", "memory":
		c.Storage.Backend = "memory"
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		c.Storage.Backend = "postgres"
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			return fmt.Errorf("supabase backend requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		c.Storage.Backend = "supabase"
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Origins returns the parsed CORS allowlist.
func (c *Config) Origins() []string {
	raw := strings.TrimSpace(c.Gateway.CORSOrigins)
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
