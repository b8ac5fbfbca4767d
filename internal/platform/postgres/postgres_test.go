package postgres

import (
	"context"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.ConnectAttempts != 5 || cfg.ApplicationName != "animus-hpo" {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}
}

func TestConfigFromEnvInvalidDuration(t *testing.T) {
	t.Setenv("DATABASE_CONNECT_BACKOFF", "soon")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() err=nil, want error")
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{URL: "postgres://x", PingTimeout: time.Second, MaxOpenConns: 2, MaxIdleConns: 1}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	cases := map[string]func(*Config){
		"url":       func(c *Config) { c.URL = " " },
		"ping":      func(c *Config) { c.PingTimeout = 0 },
		"attempts":  func(c *Config) { c.ConnectAttempts = -1 },
		"backoff":   func(c *Config) { c.ConnectBackoff = -time.Second },
		"open":      func(c *Config) { c.MaxOpenConns = 0 },
		"idle>open": func(c *Config) { c.MaxIdleConns = 3 },
		"lifetime":  func(c *Config) { c.ConnMaxLifetime = -time.Second },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestConnConfigApplicationName(t *testing.T) {
	cfg := Config{URL: "postgres://u:p@localhost:5432/hpo", ApplicationName: "sweeps"}
	connCfg, err := cfg.connConfig()
	if err != nil {
		t.Fatalf("connConfig() err=%v", err)
	}
	if got := connCfg.RuntimeParams["application_name"]; got != "sweeps" {
		t.Fatalf("application_name=%q, want sweeps", got)
	}

	cfg.URL += "?application_name=custom"
	connCfg, err = cfg.connConfig()
	if err != nil {
		t.Fatalf("connConfig() err=%v", err)
	}
	if got := connCfg.RuntimeParams["application_name"]; got != "custom" {
		t.Fatalf("application_name=%q, want the URL value", got)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
