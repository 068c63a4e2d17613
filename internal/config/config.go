package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voicechat/libs/config"
)

// Config represents service configuration loaded from YAML/env.
type Config struct {
	Environment string `yaml:"environment" env:"VOICECHAT_ENV"`
	HTTP        struct {
		Port string `yaml:"port" env:"VOICECHAT_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"VOICECHAT_POSTGRES_DSN"`
	} `yaml:"database"`
	JWT struct {
		Secret           string `yaml:"secret" env:"VOICECHAT_JWT_SECRET"`
		ExpiresInMinutes int    `yaml:"expiresInMinutes" env:"VOICECHAT_JWT_EXPIRES_MINUTES"`
	} `yaml:"jwt"`
	Redis struct {
		Addr     string        `yaml:"addr" env:"VOICECHAT_REDIS_ADDR"`
		Password string        `yaml:"password" env:"VOICECHAT_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"VOICECHAT_REDIS_DB"`
		TTL      time.Duration `yaml:"ttl" env:"VOICECHAT_CONVERSATION_TTL"`
	} `yaml:"redis"`
	Webhook struct {
		URL     string        `yaml:"url" env:"VOICECHAT_WEBHOOK_URL"`
		Timeout time.Duration `yaml:"timeout" env:"VOICECHAT_WEBHOOK_TIMEOUT"`
	} `yaml:"webhook"`
	Storage struct {
		BaseURL   string        `yaml:"baseUrl" env:"VOICECHAT_STORAGE_BASE_URL"`
		CloudName string        `yaml:"cloudName" env:"VOICECHAT_STORAGE_CLOUD_NAME"`
		APIKey    string        `yaml:"apiKey" env:"VOICECHAT_STORAGE_API_KEY"`
		APISecret string        `yaml:"apiSecret" env:"VOICECHAT_STORAGE_API_SECRET"`
		Timeout   time.Duration `yaml:"timeout" env:"VOICECHAT_STORAGE_TIMEOUT"`
	} `yaml:"storage"`
}

// Load reads configuration using the shared config loader and validates the
// values the service cannot run without. Missing storage credentials fail
// here rather than on the first upload.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Environment = "production"
	cfg.HTTP.Port = "8080"
	cfg.JWT.ExpiresInMinutes = 60
	cfg.Redis.TTL = 30 * time.Minute
	cfg.Webhook.Timeout = 60 * time.Second
	cfg.Storage.Timeout = 30 * time.Second

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Database.DSN == "" {
		return nil, errors.New("config: database DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, errors.New("config: jwt secret is required")
	}
	if cfg.Webhook.URL == "" {
		return nil, errors.New("config: webhook URL is required")
	}
	if cfg.Storage.CloudName == "" || cfg.Storage.APIKey == "" || cfg.Storage.APISecret == "" {
		return nil, errors.New("config: storage credentials are required")
	}
	if cfg.JWT.ExpiresInMinutes <= 0 {
		cfg.JWT.ExpiresInMinutes = 60
	}

	return cfg, nil
}

// HTTPAddress ensures we always return a host:port formatted string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// JWTExpiration converts configured expiry to a duration.
func (c *Config) JWTExpiration() time.Duration {
	if c.JWT.ExpiresInMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.JWT.ExpiresInMinutes) * time.Minute
}

// Production reports whether diagnostics should be withheld from responses.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
