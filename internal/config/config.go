// ABOUTME: Configuration loading and parsing for video-studio
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, env overrides, and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// Config represents the complete video-studio configuration
type Config struct {
	API     APIConfig     `yaml:"api" toml:"api"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// APIConfig holds the video service connection settings
type APIConfig struct {
	BaseURL       string `yaml:"base_url" toml:"base_url" env:"STUDIO_API_URL"`
	Token         string `yaml:"token" toml:"token" env:"STUDIO_API_TOKEN"`
	AspectRatio   string `yaml:"aspect_ratio" toml:"aspect_ratio"`
	VoiceProvider string `yaml:"voice_provider" toml:"voice_provider"`

	SubmitTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for file unmarshaling
	SubmitTimeoutRaw string `yaml:"submit_timeout" toml:"submit_timeout"`
}

// StorageConfig selects the durable state backend
type StorageConfig struct {
	Driver string      `yaml:"driver" toml:"driver" env:"STUDIO_STORAGE_DRIVER"`
	Path   string      `yaml:"path" toml:"path" env:"STUDIO_STORAGE_PATH"`
	Slot   string      `yaml:"slot" toml:"slot"`
	Redis  RedisConfig `yaml:"redis" toml:"redis"`

	// SaveTimeout bounds each state write; writes block other mutations.
	SaveTimeout    time.Duration `yaml:"-" toml:"-"`
	SaveTimeoutRaw string        `yaml:"save_timeout" toml:"save_timeout"`
}

// RedisConfig holds the Redis connection used by the redis storage driver
// and the redis stream source
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr" env:"STUDIO_REDIS_ADDR"`
	Password string `yaml:"password" toml:"password" env:"STUDIO_REDIS_PASSWORD"`
	DB       int    `yaml:"db" toml:"db"`
}

// StreamConfig selects where job progress is read from
type StreamConfig struct {
	Source string `yaml:"source" toml:"source" env:"STUDIO_STREAM_SOURCE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"STUDIO_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"STUDIO_LOG_FORMAT"`
}

var (
	validDrivers      = []string{"sqlite", "bolt", "redis", "memory"}
	validSources      = []string{"http", "redis"}
	validLevels       = []string{"debug", "info", "warn", "error"}
	validFormats      = []string{"text", "json"}
	envVarPattern     = regexp.MustCompile(`\$\{([^}]+)\}`)
	errUnknownFormat  = errors.New("unsupported config file extension")
	defaultConfigName = filepath.Join("video-studio", "config.yaml")
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "http://localhost:8000/api/v1",
			AspectRatio:   "16:9",
			VoiceProvider: "edge-tts",
			SubmitTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   defaultDataPath("studio.db"),
			Slot:   "video-generator-storage",
			Redis:  RedisConfig{Addr: "localhost:6379"},

			SaveTimeout: 2 * time.Second,
		},
		Stream:  StreamConfig{Source: "http"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, defaultConfigName)
}

func defaultDataPath(name string) string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return name
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "video-studio", name)
}

// Load reads a configuration file from the given path on top of Default().
// Environment variables in the format ${VAR_NAME} are expanded, STUDIO_*
// overrides are applied, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, filepath.Ext(path))
	}

	return finish(cfg)
}

// LoadOptional loads path if it exists and falls back to Default() plus
// environment overrides when it does not. An empty path uses DefaultPath.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.SubmitTimeout <= 0 {
		return fmt.Errorf("api.submit_timeout must be positive")
	}

	if !slices.Contains(validDrivers, c.Storage.Driver) {
		return fmt.Errorf("storage.driver must be one of %s, got %q", strings.Join(validDrivers, ", "), c.Storage.Driver)
	}
	if c.Storage.SaveTimeout <= 0 {
		return fmt.Errorf("storage.save_timeout must be positive")
	}
	if (c.Storage.Driver == "sqlite" || c.Storage.Driver == "bolt") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
	}

	if !slices.Contains(validSources, c.Stream.Source) {
		return fmt.Errorf("stream.source must be one of %s, got %q", strings.Join(validSources, ", "), c.Stream.Source)
	}
	if (c.Storage.Driver == "redis" || c.Stream.Source == "redis") && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is used")
	}

	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %s, got %q", strings.Join(validFormats, ", "), c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.API.SubmitTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.API.SubmitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing submit_timeout %q: %w", cfg.API.SubmitTimeoutRaw, err)
		}
		cfg.API.SubmitTimeout = d
	}
	if cfg.Storage.SaveTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Storage.SaveTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing save_timeout %q: %w", cfg.Storage.SaveTimeoutRaw, err)
		}
		cfg.Storage.SaveTimeout = d
	}
	return nil
}
