// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateRPS     float64  `yaml:"rate_rps"`   // per-IP token bucket
	RateBurst   int      `yaml:"rate_burst"` // per-IP burst
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // purchase listing cache TTL
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`  // HS256 secret shared with the auth service
	ServiceKey string `yaml:"service_key"` // checkout collaborator bearer key
	AdminKey   string `yaml:"admin_key"`   // admin console bearer key
}

type SchedulerConfig struct {
	QueueInterval time.Duration `yaml:"queue_interval"`
}

type RateLimitConfig struct {
	TrialPerHour int `yaml:"trial_per_hour"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates the
// settings the service cannot start without. In dev mode the database and
// redis may be left empty (in-memory store, no cache).
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RateRPS <= 0 {
		cfg.HTTP.RateRPS = 20
	}
	if cfg.HTTP.RateBurst <= 0 {
		cfg.HTTP.RateBurst = 40
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Scheduler.QueueInterval <= 0 {
		cfg.Scheduler.QueueInterval = 5 * time.Minute
	}
	if cfg.RateLimit.TrialPerHour <= 0 {
		cfg.RateLimit.TrialPerHour = 3
	}

	// Minimal validation
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if cfg.Auth.ServiceKey == "" || cfg.Auth.AdminKey == "" {
		return nil, errors.New("auth.service_key and auth.admin_key are required")
	}
	if !dev {
		if cfg.Database.URL == "" {
			return nil, errors.New("database.url is required")
		}
		if cfg.Redis.URL == "" {
			return nil, errors.New("redis.url is required")
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Minute
	}
	return d
}
