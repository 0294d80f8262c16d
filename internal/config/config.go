package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartbiopk/cliamapp/internal/tariff"
)

const (
	defaultPort            = "8080"
	defaultRateLimitRPS    = 25.0
	defaultRateLimitBurst  = 50
	defaultEventsFilePath  = "data/usage_events.jsonl"
	defaultSQLitePath      = "data/usage_events.db"
	defaultEventBufferSize = 256
)

// Analytics backend names accepted in configuration.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string                              `yaml:"port"`
	ShutdownGracePeriod  time.Duration                       `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration                       `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration                       `yaml:"write_timeout"`
	IdleTimeout          time.Duration                       `yaml:"idle_timeout"`
	EnableRequestLogging bool                                `yaml:"enable_request_logging"`
	RateLimitRPS         float64                             `yaml:"-"`
	RateLimitBurst       int                                 `yaml:"-"`
	AdsFile              string                              `yaml:"ads_file"`
	Analytics            AnalyticsConfig                     `yaml:"analytics"`
	TariffOverrides      map[tariff.Category]tariff.Override `yaml:"-"`
}

// AnalyticsConfig selects and parameterizes the usage event backends.
type AnalyticsConfig struct {
	Backends    []string `yaml:"backends"`
	FilePath    string   `yaml:"file_path"`
	SQLitePath  string   `yaml:"sqlite_path"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	BufferSize  int      `yaml:"buffer_size"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string                     `yaml:"port"`
	ShutdownGracePeriod  string                     `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string                     `yaml:"read_header_timeout"`
	WriteTimeout         string                     `yaml:"write_timeout"`
	IdleTimeout          string                     `yaml:"idle_timeout"`
	EnableRequestLogging bool                       `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit              `yaml:"rate_limit"`
	AdsFile              string                     `yaml:"ads_file"`
	Analytics            yamlAnalytics              `yaml:"analytics"`
	Tariff               map[string]tariff.Override `yaml:"tariff"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// yamlAnalytics represents the analytics section in YAML.
type yamlAnalytics struct {
	Backends    []string `yaml:"backends"`
	FilePath    string   `yaml:"file_path"`
	SQLitePath  string   `yaml:"sqlite_path"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	BufferSize  int      `yaml:"buffer_size"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile        string
	Port              *string
	AdsFile           *string
	AnalyticsBackends *string
	RateLimitRPS      *float64
	RateLimitBurst    *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Load from YAML file if specified
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		applyYAMLConfig(&cfg, yamlCfg)
	}

	// Apply environment variables (override YAML)
	applyEnvConfig(&cfg)

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	// Validate final configuration
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		Analytics: AnalyticsConfig{
			Backends:   []string{BackendFile},
			FilePath:   defaultEventsFilePath,
			SQLitePath: defaultSQLitePath,
			BufferSize: defaultEventBufferSize,
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	if yamlCfg.ShutdownGracePeriod != "" {
		if d, err := time.ParseDuration(yamlCfg.ShutdownGracePeriod); err == nil {
			cfg.ShutdownGracePeriod = d
		}
	}

	if yamlCfg.ReadHeaderTimeout != "" {
		if d, err := time.ParseDuration(yamlCfg.ReadHeaderTimeout); err == nil {
			cfg.ReadHeaderTimeout = d
		}
	}

	if yamlCfg.WriteTimeout != "" {
		if d, err := time.ParseDuration(yamlCfg.WriteTimeout); err == nil {
			cfg.WriteTimeout = d
		}
	}

	if yamlCfg.IdleTimeout != "" {
		if d, err := time.ParseDuration(yamlCfg.IdleTimeout); err == nil {
			cfg.IdleTimeout = d
		}
	}

	cfg.EnableRequestLogging = yamlCfg.EnableRequestLogging

	if yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = yamlCfg.RateLimit.RPS
	}

	if yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = yamlCfg.RateLimit.Burst
	}

	if yamlCfg.AdsFile != "" {
		cfg.AdsFile = yamlCfg.AdsFile
	}

	if len(yamlCfg.Analytics.Backends) > 0 {
		cfg.Analytics.Backends = yamlCfg.Analytics.Backends
	}
	if yamlCfg.Analytics.FilePath != "" {
		cfg.Analytics.FilePath = yamlCfg.Analytics.FilePath
	}
	if yamlCfg.Analytics.SQLitePath != "" {
		cfg.Analytics.SQLitePath = yamlCfg.Analytics.SQLitePath
	}
	if yamlCfg.Analytics.PostgresDSN != "" {
		cfg.Analytics.PostgresDSN = yamlCfg.Analytics.PostgresDSN
	}
	if yamlCfg.Analytics.BufferSize > 0 {
		cfg.Analytics.BufferSize = yamlCfg.Analytics.BufferSize
	}

	if len(yamlCfg.Tariff) > 0 {
		overrides := make(map[tariff.Category]tariff.Override, len(yamlCfg.Tariff))
		for category, override := range yamlCfg.Tariff {
			overrides[tariff.Category(category)] = override
		}
		cfg.TariffOverrides = overrides
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if adsFile := strings.TrimSpace(os.Getenv("ADS_FILE")); adsFile != "" {
		cfg.AdsFile = adsFile
	}

	if rawBackends := strings.TrimSpace(os.Getenv("ANALYTICS_BACKENDS")); rawBackends != "" {
		if backends, err := parseBackends(rawBackends); err == nil {
			cfg.Analytics.Backends = backends
		}
	}

	if path := strings.TrimSpace(os.Getenv("ANALYTICS_FILE_PATH")); path != "" {
		cfg.Analytics.FilePath = path
	}

	if path := strings.TrimSpace(os.Getenv("ANALYTICS_SQLITE_PATH")); path != "" {
		cfg.Analytics.SQLitePath = path
	}

	if dsn := strings.TrimSpace(os.Getenv("ANALYTICS_POSTGRES_DSN")); dsn != "" {
		cfg.Analytics.PostgresDSN = dsn
	}

	if size := strings.TrimSpace(os.Getenv("ANALYTICS_BUFFER_SIZE")); size != "" {
		if value, err := strconv.Atoi(size); err == nil && value > 0 {
			cfg.Analytics.BufferSize = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.AdsFile != nil && *overrides.AdsFile != "" {
		cfg.AdsFile = *overrides.AdsFile
	}

	if overrides.AnalyticsBackends != nil && *overrides.AnalyticsBackends != "" {
		backends, err := parseBackends(*overrides.AnalyticsBackends)
		if err != nil {
			return fmt.Errorf("parse analytics backends: %w", err)
		}
		cfg.Analytics.Backends = backends
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.Analytics.BufferSize <= 0 {
		return fmt.Errorf("analytics buffer size must be > 0")
	}

	if len(cfg.Analytics.Backends) == 0 {
		return fmt.Errorf("analytics backends cannot be empty")
	}
	for _, backend := range cfg.Analytics.Backends {
		switch backend {
		case BackendNone:
			if len(cfg.Analytics.Backends) > 1 {
				return fmt.Errorf("analytics backend %q cannot be combined with others", BackendNone)
			}
		case BackendMemory:
		case BackendFile:
			if cfg.Analytics.FilePath == "" {
				return fmt.Errorf("analytics backend %q requires a file path", BackendFile)
			}
		case BackendSQLite:
			if cfg.Analytics.SQLitePath == "" {
				return fmt.Errorf("analytics backend %q requires a database path", BackendSQLite)
			}
		case BackendPostgres:
			if cfg.Analytics.PostgresDSN == "" {
				return fmt.Errorf("analytics backend %q requires a DSN", BackendPostgres)
			}
		default:
			return fmt.Errorf("unknown analytics backend %q", backend)
		}
	}

	return nil
}

// parseBackends parses a comma-separated list of analytics backend names.
func parseBackends(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	backends := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || seen[part] {
			continue
		}
		switch part {
		case BackendNone, BackendMemory, BackendFile, BackendSQLite, BackendPostgres:
		default:
			return nil, fmt.Errorf("unknown analytics backend %q", part)
		}
		seen[part] = true
		backends = append(backends, part)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no analytics backends provided")
	}
	return backends, nil
}
