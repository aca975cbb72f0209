// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Results   ResultConfig    `yaml:"results"`
	Debug     bool            `yaml:"debug"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// RedisConfig enables the result cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig enables the bearer gate when Secret is set.
type AuthConfig struct {
	Secret   string `yaml:"secret"`
	Audience string `yaml:"audience"`
}

// EstimatorConfig selects where estimates come from. With Addr empty the
// server uses the in-process mock seeded with MockSeed. GRPCAddr, when set,
// also exposes the estimator over gRPC.
type EstimatorConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	MockSeed int64  `yaml:"mock_seed"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ResultConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("MEASULOR_ADDR", c.Server.Addr)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Auth.Secret = getEnv("JWT_SECRET", c.Auth.Secret)
	c.Auth.Audience = getEnv("JWT_AUDIENCE", c.Auth.Audience)
	c.Estimator.Addr = getEnv("ESTIMATOR_ADDR", c.Estimator.Addr)
	c.Estimator.GRPCAddr = getEnv("MEASULOR_GRPC_ADDR", c.Estimator.GRPCAddr)

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.Server.MaxUploadBytes = n
	}
	if err := durationEnv("SESSION_TTL", &c.Sessions.TTL); err != nil {
		return err
	}
	if err := durationEnv("RESULT_TTL", &c.Results.TTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = 15 * time.Minute
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = time.Minute
	}
	if c.Results.TTL == 0 {
		c.Results.TTL = 5 * time.Minute
	}
	if c.Estimator.MockSeed == 0 {
		c.Estimator.MockSeed = time.Now().UnixNano()
	}
}

func (c *Config) validate() error {
	if c.Server.MaxUploadBytes < 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Sessions.TTL < 0 || c.Sessions.SweepInterval < 0 {
		return errors.New("sessions.ttl and sessions.sweep_interval must be positive")
	}
	if c.Results.TTL < 0 {
		return errors.New("results.ttl must be positive")
	}
	if c.Estimator.Addr != "" && c.Estimator.Addr == c.Estimator.GRPCAddr {
		return fmt.Errorf("estimator.addr and estimator.grpc_addr both point at %s", c.Estimator.Addr)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
