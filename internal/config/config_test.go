package config

import (
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/waddlebot?sslmode=disable")
	t.Setenv("CORE_API_URL", "http://core.local")
	t.Setenv("MARKETPLACE_API_URL", "http://marketplace.local")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"default max workers", func(c *Config) bool { return c.MaxWorkers == 20 }},
		{"default module workers", func(c *Config) bool { return c.ModuleWorkers == 5 }},
		{"default claim duration", func(c *Config) bool { return c.ClaimDuration.Minutes() == 30 }},
		{"default checkin timeout", func(c *Config) bool { return c.CheckinTimeout.Minutes() == 6 }},
		{"default session ttl", func(c *Config) bool { return c.SessionTTL.Hours() == 1 }},
		{"default command cache ttl", func(c *Config) bool { return c.CommandCacheTTL.Minutes() == 5 }},
		{"default entity cache ttl", func(c *Config) bool { return c.EntityCacheTTL.Minutes() == 10 }},
		{"default rbac workers", func(c *Config) bool { return c.RBACWorkers == 10 }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value")
			}
		})
	}
}

func TestLoadRequiredVars(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"missing database url", "DATABASE_URL"},
		{"missing core api url", "CORE_API_URL"},
		{"missing marketplace api url", "MARKETPLACE_API_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load() = nil error, want failure for empty %s", tt.unset)
			}
		})
	}
}

func TestLoadDerivedValues(t *testing.T) {
	t.Run("reputation url defaults to core api", func(t *testing.T) {
		setRequired(t)
		t.Setenv("CORE_API_URL", "http://core.local/")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.ReputationAPIURL != "http://core.local/reputation" {
			t.Errorf("ReputationAPIURL = %q, want %q", cfg.ReputationAPIURL, "http://core.local/reputation")
		}
	})

	t.Run("explicit reputation url wins", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REPUTATION_API_URL", "http://rep.local/apply")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.ReputationAPIURL != "http://rep.local/apply" {
			t.Errorf("ReputationAPIURL = %q, want %q", cfg.ReputationAPIURL, "http://rep.local/apply")
		}
	})

	t.Run("read replica falls back to primary", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.DatabaseReadReplicaURL != cfg.DatabaseURL {
			t.Errorf("DatabaseReadReplicaURL = %q, want primary %q", cfg.DatabaseReadReplicaURL, cfg.DatabaseURL)
		}
	})
}
