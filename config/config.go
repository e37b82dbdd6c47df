// Package config loads server configuration from defaults, an optional JSON
// file and the environment. Environment variables take precedence over the
// file; command-line flags (handled in cmd/server) take precedence over both.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Rules    RulesConfig    `json:"rules"`
	Cache    CacheConfig    `json:"cache"`
	Log      LogConfig      `json:"log"`
	Tracing  TracingConfig  `json:"tracing"`
	Watch    WatchConfig    `json:"watch"`
}

type ServerConfig struct {
	Port string `json:"port"`
	// Comma-separated CORS origins
	AllowedOrigins string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

// RulesConfig points at an optional JSON rules file overlaid on the
// built-in table.
type RulesConfig struct {
	File string `json:"file"`
}

// CacheConfig selects Redis when Addr is set; otherwise the in-memory cache.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// TTL returns the ledger cache TTL.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text, json
}

type TracingConfig struct {
	Enabled bool `json:"enabled"`
}

// WatchConfig drives the background threshold watcher.
type WatchConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	// Percentage of a country's threshold at which a subject is reported
	WarnPercent int `json:"warn_percent"`
}

// Interval returns the watcher check interval.
func (c WatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", AllowedOrigins: "http://localhost:3000,http://localhost:5173"},
		Database: DatabaseConfig{Path: "./residency.db"},
		Cache:    CacheConfig{TTLSeconds: 600},
		Log:      LogConfig{Level: "info", Format: "text"},
		Watch:    WatchConfig{Enabled: true, IntervalSeconds: 3600, WarnPercent: 80},
	}
}

// Load builds the configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func overrideFromEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	cfg.Rules.File = getEnv("RULES_FILE", cfg.Rules.File)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", cfg.Cache.TTLSeconds)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Watch.Enabled = getEnvBool("WATCH_ENABLED", cfg.Watch.Enabled)
	cfg.Watch.IntervalSeconds = getEnvInt("WATCH_INTERVAL_SECONDS", cfg.Watch.IntervalSeconds)
	cfg.Watch.WarnPercent = getEnvInt("WATCH_WARN_PERCENT", cfg.Watch.WarnPercent)
}

// Origins returns the CORS origins as a slice.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	if c.Watch.Enabled && c.Watch.IntervalSeconds <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}
	if c.Watch.WarnPercent < 0 || c.Watch.WarnPercent > 100 {
		return fmt.Errorf("watch warn percent must be between 0 and 100")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
