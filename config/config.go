package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBaseURL is the Gemini models endpoint used when llm.base_url is unset.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig describes the grounded generation backend.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // only "gemini" today
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"` // optional default credential, never written back
	DefaultModel string        `mapstructure:"default_model"`
	Models       []string      `mapstructure:"models"`
	Timeout      time.Duration `mapstructure:"timeout"` // 0 keeps the transport default
}

// ResearchConfig tunes the research pipeline.
type ResearchConfig struct {
	MinQueries     int `mapstructure:"min_queries"`
	MaxQueries     int `mapstructure:"max_queries"`
	MaxQueryLength int `mapstructure:"max_query_length"`
	HistoryTurns   int `mapstructure:"history_turns"`
	MaxParallel    int `mapstructure:"max_parallel"` // 0 = all branches at once
}

// SessionConfig controls the in-memory session registry.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// StorageConfig contains external storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings. Redis is only used for the
// cross-replica run guard; conversations stay in process memory.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

// Normalize applies defaults for unset LLM values.
func (c LLMConfig) Normalize() LLMConfig {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.DefaultModel = strings.TrimSpace(c.DefaultModel)
	seen := make(map[string]struct{}, len(c.Models))
	var models []string
	for _, m := range c.Models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}
	if c.DefaultModel == "" && len(models) > 0 {
		c.DefaultModel = models[0]
	}
	if c.DefaultModel != "" {
		if _, ok := seen[c.DefaultModel]; !ok {
			models = append([]string{c.DefaultModel}, models...)
		}
	}
	c.Models = models
	return c
}

// Validate checks the LLM configuration.
func (c LLMConfig) Validate() error {
	if c.Provider != "gemini" {
		return fmt.Errorf("llm.provider %q is not supported", c.Provider)
	}
	if c.DefaultModel == "" {
		return errors.New("llm.default_model required")
	}
	if c.Timeout < 0 {
		return errors.New("llm.timeout cannot be negative")
	}
	return nil
}

// Normalize fills zero research values with the pipeline defaults.
func (c ResearchConfig) Normalize() ResearchConfig {
	if c.MinQueries <= 0 {
		c.MinQueries = 5
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = 9
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = 200
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 10
	}
	if c.MaxParallel < 0 {
		c.MaxParallel = 0
	}
	return c
}

// Validate ensures the query bounds are coherent.
func (c ResearchConfig) Validate() error {
	if c.MaxQueries < c.MinQueries {
		return fmt.Errorf("research.max_queries (%d) must be >= research.min_queries (%d)", c.MaxQueries, c.MinQueries)
	}
	if c.MaxQueryLength < 32 {
		return fmt.Errorf("research.max_query_length (%d) must be >= 32", c.MaxQueryLength)
	}
	return nil
}

// Normalize applies session registry defaults.
func (c SessionConfig) Normalize() SessionConfig {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	return c
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	if r.LockTTL <= 0 {
		return fmt.Errorf("storage.redis.lock_ttl must be > 0")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlp_endpoint required when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file, environment and defaults. A missing
// config file is not an error when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Research = cfg.Research.Normalize()
	cfg.Session = cfg.Session.Normalize()

	for _, validate := range []func() error{
		cfg.LLM.Validate,
		cfg.Research.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_file", "logs/deepsearch.log")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.base_url", DefaultBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.default_model", "gemini-2.0-flash")
	v.SetDefault("llm.models", []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"})
	v.SetDefault("llm.timeout", 0)
	v.SetDefault("research.min_queries", 5)
	v.SetDefault("research.max_queries", 9)
	v.SetDefault("research.max_query_length", 200)
	v.SetDefault("research.history_turns", 10)
	v.SetDefault("research.max_parallel", 0)
	v.SetDefault("session.ttl", "2h")
	v.SetDefault("session.cleanup_interval", "10m")
	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.lock_ttl", "15m")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "deepsearch")
	v.SetDefault("telemetry.service_version", "dev")
}
