package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beaconhq/beacon/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Auth configuration
	Auth AuthConfig

	// Store configuration
	Store StoreConfig

	// Presence configuration
	Presence PresenceConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds token and user store settings
type AuthConfig struct {
	// SigningKey is the HMAC key for access tokens. Required.
	SigningKey string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	// UsersDBPath is the SQLite database path for user accounts.
	UsersDBPath string
}

// StoreConfig holds token store settings
type StoreConfig struct {
	// RedisURL selects the Redis-backed store; empty means in-memory.
	RedisURL  string
	RedisDB   int
	OpTimeout time.Duration
	IndexTTL  time.Duration
}

// PresenceConfig holds websocket presence settings
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// fileConfig mirrors Config for the optional YAML overlay. Pointer fields
// distinguish "unset" from zero values; durations are Go duration strings
// such as "15m".
type fileConfig struct {
	Server struct {
		Host            *string `yaml:"host"`
		Port            *string `yaml:"port"`
		ReadTimeout     *string `yaml:"read_timeout"`
		WriteTimeout    *string `yaml:"write_timeout"`
		IdleTimeout     *string `yaml:"idle_timeout"`
		ShutdownTimeout *string `yaml:"shutdown_timeout"`
		HealthPort      *string `yaml:"health_port"`
	} `yaml:"server"`
	Auth struct {
		SigningKey  *string `yaml:"signing_key"`
		AccessTTL   *string `yaml:"access_ttl"`
		RefreshTTL  *string `yaml:"refresh_ttl"`
		ResetTTL    *string `yaml:"reset_ttl"`
		UsersDBPath *string `yaml:"users_db_path"`
	} `yaml:"auth"`
	Store struct {
		RedisURL  *string `yaml:"redis_url"`
		RedisDB   *int    `yaml:"redis_db"`
		OpTimeout *string `yaml:"op_timeout"`
		IndexTTL  *string `yaml:"index_ttl"`
	} `yaml:"store"`
	Presence struct {
		HeartbeatInterval *string `yaml:"heartbeat_interval"`
		WriteTimeout      *string `yaml:"write_timeout"`
	} `yaml:"presence"`
	Observability struct {
		LogLevel       *string `yaml:"log_level"`
		MetricsEnabled *bool   `yaml:"metrics_enabled"`
	} `yaml:"observability"`
}

// LoadConfig loads configuration from defaults, an optional YAML file
// (BEACON_CONFIG_FILE), then environment variables. Environment wins.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("BEACON_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Auth: AuthConfig{
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  168 * time.Hour,
			ResetTTL:    30 * time.Minute,
			UsersDBPath: "beacon.db",
		},
		Store: StoreConfig{
			OpTimeout: 3 * time.Second,
			IndexTTL:  31 * 24 * time.Hour,
		},
		Presence: PresenceConfig{
			HeartbeatInterval: 10 * time.Second,
			WriteTimeout:      5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
		},
	}
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.Server.Host, fc.Server.Host)
	setString(&cfg.Server.Port, fc.Server.Port)
	setDuration(&cfg.Server.ReadTimeout, fc.Server.ReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, fc.Server.WriteTimeout)
	setDuration(&cfg.Server.IdleTimeout, fc.Server.IdleTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, fc.Server.ShutdownTimeout)
	setString(&cfg.Server.HealthPort, fc.Server.HealthPort)

	setString(&cfg.Auth.SigningKey, fc.Auth.SigningKey)
	setDuration(&cfg.Auth.AccessTTL, fc.Auth.AccessTTL)
	setDuration(&cfg.Auth.RefreshTTL, fc.Auth.RefreshTTL)
	setDuration(&cfg.Auth.ResetTTL, fc.Auth.ResetTTL)
	setString(&cfg.Auth.UsersDBPath, fc.Auth.UsersDBPath)

	setString(&cfg.Store.RedisURL, fc.Store.RedisURL)
	if fc.Store.RedisDB != nil {
		cfg.Store.RedisDB = *fc.Store.RedisDB
	}
	setDuration(&cfg.Store.OpTimeout, fc.Store.OpTimeout)
	setDuration(&cfg.Store.IndexTTL, fc.Store.IndexTTL)

	setDuration(&cfg.Presence.HeartbeatInterval, fc.Presence.HeartbeatInterval)
	setDuration(&cfg.Presence.WriteTimeout, fc.Presence.WriteTimeout)

	if fc.Observability.LogLevel != nil {
		cfg.Observability.LogLevel = observability.ParseLogLevel(*fc.Observability.LogLevel)
	}
	if fc.Observability.MetricsEnabled != nil {
		cfg.Observability.MetricsEnabled = *fc.Observability.MetricsEnabled
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("BEACON_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("BEACON_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("BEACON_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("BEACON_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("BEACON_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("BEACON_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("BEACON_HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Auth.SigningKey = getEnv("BEACON_SIGNING_KEY", cfg.Auth.SigningKey)
	cfg.Auth.AccessTTL = getEnvDuration("BEACON_ACCESS_TTL", cfg.Auth.AccessTTL)
	cfg.Auth.RefreshTTL = getEnvDuration("BEACON_REFRESH_TTL", cfg.Auth.RefreshTTL)
	cfg.Auth.ResetTTL = getEnvDuration("BEACON_RESET_TTL", cfg.Auth.ResetTTL)
	cfg.Auth.UsersDBPath = getEnv("BEACON_USERS_DB", cfg.Auth.UsersDBPath)

	cfg.Store.RedisURL = getEnv("BEACON_REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.RedisDB = getEnvInt("BEACON_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.OpTimeout = getEnvDuration("BEACON_STORE_OP_TIMEOUT", cfg.Store.OpTimeout)
	cfg.Store.IndexTTL = getEnvDuration("BEACON_STORE_INDEX_TTL", cfg.Store.IndexTTL)

	cfg.Presence.HeartbeatInterval = getEnvDuration("BEACON_HEARTBEAT_INTERVAL", cfg.Presence.HeartbeatInterval)
	cfg.Presence.WriteTimeout = getEnvDuration("BEACON_PRESENCE_WRITE_TIMEOUT", cfg.Presence.WriteTimeout)

	if level := getEnv("BEACON_LOG_LEVEL", ""); level != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	cfg.Observability.MetricsEnabled = getEnvBool("BEACON_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.SigningKey == "" {
		return fmt.Errorf("signing key is required (set BEACON_SIGNING_KEY)")
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}
	if c.Auth.UsersDBPath == "" {
		return fmt.Errorf("users database path is required")
	}

	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) {
	if src == nil {
		return
	}
	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
