package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidatesWithAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Agent.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.Agent.APIKey = "" }},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"bad sandbox mode", func(c *Config) { c.Sandbox.Mode = "vm" }},
		{"low port floor", func(c *Config) { c.Sandbox.PortFloor = 80 }},
		{"zero port window", func(c *Config) { c.Sandbox.PortWindow = 0 }},
		{"zero turn timeout", func(c *Config) { c.Agent.TurnTimeout = 0 }},
		{"zero correction cycles", func(c *Config) { c.Agent.MaxCorrectionCycles = 0 }},
		{"zero cleanup grace", func(c *Config) { c.Session.CleanupGrace = 0 }},
		{"empty sandbox root", func(c *Config) { c.Sandbox.Root = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agent.APIKey = "sk-test"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	data := `
server:
  http_port: 9100
agent:
  model: claude-sonnet-4-5
  turn_timeout: 5m
sandbox:
  root: /tmp/forge-test
  port_floor: 4001
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("SANDBOX_MODE", "local")
	t.Setenv("FORGE_HTTP_PORT", "9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9200 {
		t.Errorf("env override lost: http_port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Agent.APIKey != "sk-env" {
		t.Errorf("api key not taken from env")
	}
	if cfg.Agent.TurnTimeout != 5*time.Minute {
		t.Errorf("turn_timeout = %v", cfg.Agent.TurnTimeout)
	}
	if cfg.Sandbox.PortFloor != 4001 {
		t.Errorf("port_floor = %d", cfg.Sandbox.PortFloor)
	}
	// Fields absent from the file keep defaults.
	if cfg.Sandbox.KillGrace != 5*time.Second {
		t.Errorf("kill_grace = %v", cfg.Sandbox.KillGrace)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
