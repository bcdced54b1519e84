// Package config handles configuration loading for savedoc-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The file extension picks the decoder: .toml is TOML, anything
// else is YAML. Unset fields receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SAVEDOC_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/savedoc/gateway.yaml
//  3. ~/.config/savedoc/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SAVEDOC_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:7391"
//
//	storage:
//	  backend: "file"          # file, sqlite
//	  dir: "/var/lib/savedoc"  # saved-docs-<connection>.json files
//	  sqlite_path: "/var/lib/savedoc/saved-docs.db"
//
//	auth:
//	  jwt_secret: "${SAVEDOC_JWT_SECRET}"  # empty disables auth
//
//	sessions:
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - storage backend name and its location
//   - JWT secret minimum length (32 bytes) when set
//   - duration format validity
//   - logging format values
package config
