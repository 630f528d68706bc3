// Package config loads threadsync configuration from YAML, .env files, and
// the environment.
//
// # Resolution
//
// LoadDefault reads, in order:
//
//  1. .env in the working directory (if present), via godotenv
//  2. the file named by THREADSYNC_CONFIG, or
//     $XDG_CONFIG_HOME/threadsync/config.yaml, or
//     ~/.config/threadsync/config.yaml
//  3. THREADSYNC_* overrides
//
// A missing default file yields Defaults(). A missing file named by
// THREADSYNC_CONFIG is an error.
//
// # Format
//
//	conversation:
//	  base_url: "http://localhost:2024"
//	  request_timeout: "30s"
//	  stream_idle_timeout: "60s"
//	registry:
//	  enabled: true
//	  base_url: "${REGISTRY_URL}"
//	  direct_lookup: true
//	auth:
//	  jwt_secret: "${THREADSYNC_JWT_SECRET}"
//	database:
//	  path: "~/.local/share/threadsync/threads.db"
//	lifecycle:
//	  bulk_concurrency: 4
//	  bulk_rate_per_second: 5
//	chat:
//	  dedupe_ttl: "5m"
//	  dedupe_size: 1000
//	logging:
//	  level: "info"
//	  format: "text"
//
// ${VAR} references are expanded before parsing. Durations use
// time.ParseDuration syntax.
package config
