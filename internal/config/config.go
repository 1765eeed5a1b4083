package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds the client configuration
type Config struct {
	Env         string        `yaml:"env" env:"AUTOTRAC_ENV" env-default:"local"`
	StoragePath string        `yaml:"storage_path" env:"AUTOTRAC_STORAGE_PATH" env-default:"./autotrac.db"`
	Log         LogConfig     `yaml:"log"`
	Backend     BackendConfig `yaml:"backend"`
	FX          FXConfig      `yaml:"fx"`
	Sync        SyncConfig    `yaml:"sync"`
	Storage     StorageConfig `yaml:"storage"`
	Notify      NotifyConfig  `yaml:"notify"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"AUTOTRAC_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"AUTOTRAC_LOG_FORMAT" env-default:"console"`
}

// BackendConfig describes the AutoTrac REST API
type BackendConfig struct {
	BaseURL string `yaml:"base_url" env:"AUTOTRAC_BACKEND_URL" env-default:"http://localhost:8000"`
	APIKey  string `yaml:"api_key" env:"AUTOTRAC_API_KEY"`
	Timeout int    `yaml:"timeout" env:"AUTOTRAC_BACKEND_TIMEOUT" env-default:"10"` // seconds
}

// FXConfig describes the exchange rate service and cache
type FXConfig struct {
	BaseURL           string `yaml:"base_url" env:"AUTOTRAC_FX_URL" env-default:"https://api.frankfurter.app"`
	ReportingCurrency string `yaml:"reporting_currency" env:"AUTOTRAC_REPORTING_CURRENCY" env-default:"GBP"`
	TTLHours          int    `yaml:"ttl_hours" env:"AUTOTRAC_FX_TTL_HOURS" env-default:"12"`
	Timeout           int    `yaml:"timeout" env:"AUTOTRAC_FX_TIMEOUT" env-default:"5"` // seconds
}

// SyncConfig controls offline queue replay
type SyncConfig struct {
	Interval       int `yaml:"interval" env:"AUTOTRAC_SYNC_INTERVAL" env-default:"60"`          // seconds
	HealthInterval int `yaml:"health_interval" env:"AUTOTRAC_HEALTH_INTERVAL" env-default:"15"` // seconds
	CallTimeout    int `yaml:"call_timeout" env:"AUTOTRAC_SYNC_CALL_TIMEOUT" env-default:"10"`  // seconds
	MaxAttempts    int `yaml:"max_attempts" env:"AUTOTRAC_SYNC_MAX_ATTEMPTS" env-default:"0"`   // 0 = unbounded
}

// StorageConfig selects the key-value backend used by the queue and the FX cache
type StorageConfig struct {
	Backend   string `yaml:"backend" env:"AUTOTRAC_STORAGE_BACKEND" env-default:"sqlite"` // sqlite, file, redis, memory
	FilePath  string `yaml:"file_path" env:"AUTOTRAC_STORAGE_FILE" env-default:"./autotrac-state.json"`
	RedisAddr string `yaml:"redis_addr" env:"AUTOTRAC_REDIS_ADDR" env-default:"localhost:6379"`
	RedisDB   int    `yaml:"redis_db" env:"AUTOTRAC_REDIS_DB" env-default:"0"`
	Prefix    string `yaml:"prefix" env:"AUTOTRAC_STORAGE_PREFIX" env-default:"autotrac"`
}

// NotifyConfig enables publishing sync outcomes to RabbitMQ
type NotifyConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AUTOTRAC_AMQP_URL"`
	Exchange string `yaml:"exchange" env:"AUTOTRAC_AMQP_EXCHANGE" env-default:"autotrac"`
	Routing  string `yaml:"routing_key" env:"AUTOTRAC_AMQP_ROUTING_KEY" env-default:"sync.outcome"`
}

// LoadConfig reads the YAML file at path (if present), then the environment.
// A .env file next to the working directory is loaded first when it exists.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			return &cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks the configuration and returns all problems at once
func (c *Config) Validate() error {
	var problems []string

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("invalid backend url %q", c.Backend.BaseURL))
	}
	if u, err := url.Parse(c.FX.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("invalid fx url %q", c.FX.BaseURL))
	}

	code := strings.TrimSpace(c.FX.ReportingCurrency)
	if len(code) < 3 || len(code) > 4 {
		problems = append(problems, fmt.Sprintf("invalid reporting currency %q", c.FX.ReportingCurrency))
	}
	if c.FX.TTLHours < 1 {
		problems = append(problems, fmt.Sprintf("invalid fx ttl %dh: must be at least 1 hour", c.FX.TTLHours))
	}
	if c.Backend.Timeout < 1 || c.FX.Timeout < 1 || c.Sync.CallTimeout < 1 {
		problems = append(problems, "timeouts must be at least 1 second")
	}
	if c.Sync.Interval < 1 {
		problems = append(problems, fmt.Sprintf("invalid sync interval %ds", c.Sync.Interval))
	}
	if c.Sync.HealthInterval < 1 {
		problems = append(problems, fmt.Sprintf("invalid health interval %ds", c.Sync.HealthInterval))
	}
	if c.Sync.MaxAttempts < 0 {
		problems = append(problems, fmt.Sprintf("invalid max attempts %d: must not be negative", c.Sync.MaxAttempts))
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.StoragePath == "" {
			problems = append(problems, "storage_path is required for the sqlite backend")
		}
	case "file":
		if c.Storage.FilePath == "" {
			problems = append(problems, "storage.file_path is required for the file backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			problems = append(problems, "storage.redis_addr is required for the redis backend")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("invalid storage backend %q: must be one of sqlite, file, redis, memory", c.Storage.Backend))
	}

	if c.Notify.AMQPURL != "" {
		if u, err := url.Parse(c.Notify.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			problems = append(problems, fmt.Sprintf("invalid amqp url %q", c.Notify.AMQPURL))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}
func (c *Config) FXTimeout() time.Duration    { return time.Duration(c.FX.Timeout) * time.Second }
func (c *Config) FXTTL() time.Duration        { return time.Duration(c.FX.TTLHours) * time.Hour }
func (c *Config) SyncInterval() time.Duration { return time.Duration(c.Sync.Interval) * time.Second }
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Sync.HealthInterval) * time.Second
}
func (c *Config) CallTimeout() time.Duration { return time.Duration(c.Sync.CallTimeout) * time.Second }
