// Package config provides application configuration management.
//
// # Overview
//
// Configuration is assembled in three layers: built-in defaults, an
// optional YAML file named by BEACON_CONFIG_FILE, then environment
// variables. Later layers win. The assembled config is validated before
// the service starts.
//
// # Configuration Structure
//
// Server settings:
//
//	BEACON_HOST="0.0.0.0"
//	BEACON_PORT="8080"
//	BEACON_HEALTH_PORT="9090"
//	BEACON_READ_TIMEOUT="15s"
//	BEACON_WRITE_TIMEOUT="15s"
//	BEACON_SHUTDOWN_TIMEOUT="30s"
//
// Auth settings:
//
//	BEACON_SIGNING_KEY="..."        # required, HMAC key for access tokens
//	BEACON_ACCESS_TTL="15m"
//	BEACON_REFRESH_TTL="168h"
//	BEACON_RESET_TTL="30m"
//	BEACON_USERS_DB="beacon.db"     # SQLite path for user accounts
//
// Store settings:
//
//	BEACON_REDIS_URL="redis://localhost:6379"  # empty selects in-memory
//	BEACON_REDIS_DB="0"
//	BEACON_STORE_OP_TIMEOUT="3s"
//
// Presence settings:
//
//	BEACON_HEARTBEAT_INTERVAL="10s"
//	BEACON_PRESENCE_WRITE_TIMEOUT="5s"
//
// Observability settings:
//
//	BEACON_LOG_LEVEL="info"  # debug, info, warn, error
//	BEACON_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
package config
