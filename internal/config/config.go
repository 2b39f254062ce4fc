// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	AuthMode    string `yaml:"authMode" validate:"omitempty,oneof=dev hmac jwks"`

	Estimator EstimatorConfig `yaml:"estimator"`
	Registry  RegistryConfig  `yaml:"registry"`
	Rate      RateConfig      `yaml:"rate"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Seed      SeedConfig      `yaml:"seed"`
}

// EstimatorConfig selects the speed derivation policy. Exactly one policy is
// active at a time; lowpass is the default.
type EstimatorConfig struct {
	Policy         string  `yaml:"policy" validate:"oneof=lowpass window"`
	Alpha          float64 `yaml:"alpha" validate:"gt=0,lte=1"`
	SpeedThreshold float64 `yaml:"speedThreshold" validate:"gt=0"`
}

type RegistryConfig struct {
	PoolSize int `yaml:"poolSize" validate:"gte=1"`
}

// RateConfig bounds per-vehicle ingest throughput.
type RateConfig struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"gte=1"`
}

type WebhookConfig struct {
	MaxAttempts int `yaml:"maxAttempts" validate:"gte=1"`
}

// SeedConfig lists vehicle IDs registered at boot. A file takes precedence
// over the inline list when both are set.
type SeedConfig struct {
	Vehicles []string `yaml:"vehicles"`
	File     string   `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Port:     "8080",
		AuthMode: "dev",
		Estimator: EstimatorConfig{
			Policy:         "lowpass",
			Alpha:          0.3,
			SpeedThreshold: 1.0,
		},
		Registry: RegistryConfig{PoolSize: 100},
		Rate:     RateConfig{RPS: 5, Burst: 10},
		Webhooks: WebhookConfig{MaxAttempts: 10},
	}
}

// Load builds the effective config: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment overrides, then validation.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Port, "PORT")
	setStr(&c.DatabaseURL, "DATABASE_URL")
	setStr(&c.RedisURL, "REDIS_URL")
	setStr(&c.AuthMode, "AUTH_MODE")
	setStr(&c.Estimator.Policy, "ESTIMATOR_POLICY")
	setFloat(&c.Estimator.Alpha, "ESTIMATOR_ALPHA")
	setFloat(&c.Estimator.SpeedThreshold, "ESTIMATOR_SPEED_THRESHOLD")
	setInt(&c.Registry.PoolSize, "HANDLE_POOL_SIZE")
	setFloat(&c.Rate.RPS, "RATE_RPS")
	setInt(&c.Rate.Burst, "RATE_BURST")
	setInt(&c.Webhooks.MaxAttempts, "WEBHOOK_MAX_ATTEMPTS")
	setStr(&c.Seed.File, "SEED_FILE")
	if v := os.Getenv("SEED_VEHICLES"); v != "" {
		c.Seed.Vehicles = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Seed.Vehicles = append(c.Seed.Vehicles, id)
			}
		}
	}
}

// SeedVehicleIDs resolves the boot seed list, reading the seed file when set.
// The file is YAML: either a bare list of IDs or a mapping with a vehicles key.
func (c *Config) SeedVehicleIDs() ([]string, error) {
	if c.Seed.File == "" {
		return c.Seed.Vehicles, nil
	}
	b, err := os.ReadFile(c.Seed.File)
	if err != nil {
		return nil, fmt.Errorf("config: read seed file: %w", err)
	}
	var ids []string
	if err := yaml.Unmarshal(b, &ids); err == nil && len(ids) > 0 {
		return ids, nil
	}
	var doc struct {
		Vehicles []string `yaml:"vehicles"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("config: parse seed file: %w", err)
	}
	return doc.Vehicles, nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
