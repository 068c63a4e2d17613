package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Environment string `yaml:"environment"`
	HTTP        struct {
		Port string `yaml:"port" env:"TEST_HTTP_PORT"`
	} `yaml:"http"`
	Redis struct {
		DB  int           `yaml:"db"`
		TTL time.Duration `yaml:"ttl" env:"TEST_REDIS_TTL"`
	} `yaml:"redis"`
	Debug bool `yaml:"debug"`
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "environment: staging\nhttp:\n  port: \"9090\"\nredis:\n  db: 3\n  ttl: 15m\ndebug: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg := &testConfig{}
	if err := LoadConfig(cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.HTTP.Port != "9090" {
		t.Fatalf("unexpected port %q", cfg.HTTP.Port)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis db %d", cfg.Redis.DB)
	}
	if cfg.Redis.TTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.Redis.TTL)
	}
	if !cfg.Debug {
		t.Fatal("expected debug true")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_HTTP_PORT", "7070")

	cfg := &testConfig{}
	if err := LoadConfig(cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != "7070" {
		t.Fatalf("env override lost, port %q", cfg.HTTP.Port)
	}
}

func TestLoadConfigGeneratedEnvKeys(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("REDIS_DB", "5")
	t.Setenv("DEBUG", "true")

	cfg := &testConfig{}
	if err := LoadConfig(cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.Redis.DB != 5 {
		t.Fatalf("unexpected redis db %d", cfg.Redis.DB)
	}
	if !cfg.Debug {
		t.Fatal("expected debug true")
	}
}

func TestLoadConfigParsesDurationEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_TTL", "45s")

	cfg := &testConfig{}
	if err := LoadConfig(cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.TTL != 45*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.Redis.TTL)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("TEST_REDIS_TTL", "soon")

	if err := LoadConfig(&testConfig{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testConfig{}); err == nil {
		t.Fatal("expected error for non-pointer target")
	}
}
