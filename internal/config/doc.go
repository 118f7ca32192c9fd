// Package config handles configuration loading for video-studio.
//
// # Overview
//
// Configuration starts from Default(), is overlaid by an optional YAML or
// TOML file (chosen by extension), and finally by environment variables.
// The result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from STUDIO_CONFIG environment variable
//  3. ~/.config/video-studio/config.yaml
//
// A missing file at a default location is not an error.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  token: "${VIDEO_API_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Environment Overrides
//
// These variables replace file values when set:
//
//	STUDIO_API_URL          api.base_url
//	STUDIO_API_TOKEN        api.token
//	STUDIO_STORAGE_DRIVER   storage.driver
//	STUDIO_STORAGE_PATH     storage.path
//	STUDIO_REDIS_ADDR       storage.redis.addr
//	STUDIO_REDIS_PASSWORD   storage.redis.password
//	STUDIO_STREAM_SOURCE    stream.source
//	STUDIO_LOG_LEVEL        logging.level
//	STUDIO_LOG_FORMAT       logging.format
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  submit_timeout: "45s"
//
// # Configuration Sections
//
// Video service:
//
//	api:
//	  base_url: "http://localhost:8000/api/v1"
//	  token: ""
//	  aspect_ratio: "16:9"
//	  voice_provider: "edge-tts"
//	  submit_timeout: "30s"
//
// Storage (driver is sqlite, bolt, redis or memory):
//
//	storage:
//	  driver: "sqlite"
//	  path: "~/.local/share/video-studio/studio.db"
//	  slot: "video-generator-storage"
//	  redis:
//	    addr: "localhost:6379"
//	    password: ""
//	    db: 0
//
// Progress streams (source is http or redis):
//
//	stream:
//	  source: "http"
//
// Logging:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
package config
