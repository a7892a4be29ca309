// Package config loads the backend's YAML configuration file, overlaid
// with environment variables for the secrets the YAML file should never
// carry (database DSNs, API keys).
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Listener  ListenerConfig  `yaml:"listener"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
}

// ServerConfig covers the operator-facing HTTP façade.
type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// ListenerConfig covers the per-device TCP listener pool.
type ListenerConfig struct {
	BindHost          string `yaml:"bind_host"`
	InactivityTimeout int    `yaml:"inactivity_timeout_ms"`
}

// Duration converts the configured millisecond value to a time.Duration
// for use by session.Connection's read deadline.
func (l ListenerConfig) Duration() time.Duration {
	return time.Duration(l.InactivityTimeout) * time.Millisecond
}

type HandshakeConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// Duration converts the configured millisecond value to a time.Duration
// for use by handshake.ClientHandshake's deadline.
func (h HandshakeConfig) Duration() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// DatabaseConfig is the provisioned-device registry's Postgres connection.
// DSN is populated from MOWER_DATABASE_DSN, never from the YAML file.
type DatabaseConfig struct {
	DSN string `yaml:"-"`
}

// RedisConfig is the device-state cache connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// SupabaseConfig is the telemetry sink's REST endpoint. URL and ServiceKey
// are populated from SUPABASE_URL / SUPABASE_SERVICE_KEY.
type SupabaseConfig struct {
	URL        string `yaml:"-"`
	ServiceKey string `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then overlays secrets from the
// environment (loading a .env file first if present, which godotenv
// leaves silently absent in production where real env vars are set).
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.Database.DSN = os.Getenv("MOWER_DATABASE_DSN")
	cfg.Redis.Password = os.Getenv("MOWER_REDIS_PASSWORD")
	cfg.Supabase.URL = os.Getenv("SUPABASE_URL")
	cfg.Supabase.ServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")

	if cfg.Listener.BindHost == "" {
		cfg.Listener.BindHost = "0.0.0.0"
	}
	if cfg.Listener.InactivityTimeout == 0 {
		cfg.Listener.InactivityTimeout = 2000
	}
	if cfg.Handshake.TimeoutMs == 0 {
		cfg.Handshake.TimeoutMs = 5000
	}

	return &cfg, nil
}
