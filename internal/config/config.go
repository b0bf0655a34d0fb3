// Package config loads and validates the runtime configuration from a YAML
// file merged with environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the forge server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Session SessionConfig `yaml:"session"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPath string `yaml:"metrics_path"`
}

// AgentConfig controls the reasoning model transport.
type AgentConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`

	// Command is the reasoning CLI invocation for the subprocess transport.
	// Empty means drive the Anthropic API directly.
	Command []string `yaml:"command"`

	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	MaxCorrectionCycles int           `yaml:"max_correction_cycles"`
}

// SandboxConfig controls per-session workspaces and dev-server children.
type SandboxConfig struct {
	Mode        string `yaml:"mode"`
	Root        string `yaml:"root"`
	ScaffoldDir string `yaml:"scaffold_dir"`
	CuratedDir  string `yaml:"curated_dir"`

	PortFloor  int `yaml:"port_floor"`
	PortWindow int `yaml:"port_window"`

	DevCommand string `yaml:"dev_command"`
	PublicBase string `yaml:"public_base"`

	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	KillGrace    time.Duration `yaml:"kill_grace"`

	RemoveOnTeardown bool `yaml:"remove_on_teardown"`
	Watch            bool `yaml:"watch"`

	// PreviewEnv is written to the workspace .env.local before the dev
	// server starts.
	PreviewEnv map[string]string `yaml:"preview_env"`
}

// SessionConfig controls connection lifecycle timing.
type SessionConfig struct {
	CleanupGrace  time.Duration `yaml:"cleanup_grace"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// AuditConfig controls the tool-call audit store.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8000,
			MetricsPath: "/metrics",
		},
		Agent: AgentConfig{
			Model:               "claude-sonnet-4-5",
			TurnTimeout:         10 * time.Minute,
			MaxCorrectionCycles: 3,
		},
		Sandbox: SandboxConfig{
			Mode:         "local",
			Root:         "/tmp/app-builder",
			PortFloor:    3001,
			PortWindow:   100,
			DevCommand:   "npm run dev",
			PublicBase:   "http://localhost",
			ReadyTimeout: 60 * time.Second,
			KillGrace:    5 * time.Second,
		},
		Session: SessionConfig{
			CleanupGrace:  60 * time.Second,
			SweepSchedule: "@every 5m",
		},
		Audit: AuditConfig{
			Path: "forge-audit.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required (set ANTHROPIC_API_KEY)")
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent.model is required")
	}
	if c.Agent.TurnTimeout <= 0 {
		return fmt.Errorf("agent.turn_timeout must be positive")
	}
	if c.Agent.MaxCorrectionCycles < 1 {
		return fmt.Errorf("agent.max_correction_cycles must be at least 1")
	}
	switch c.Sandbox.Mode {
	case "local", "cloud":
	default:
		return fmt.Errorf("sandbox.mode %q is not one of local, cloud", c.Sandbox.Mode)
	}
	if c.Sandbox.Root == "" {
		return fmt.Errorf("sandbox.root is required")
	}
	if c.Sandbox.PortFloor <= 1024 {
		return fmt.Errorf("sandbox.port_floor %d must be above 1024", c.Sandbox.PortFloor)
	}
	if c.Sandbox.PortWindow < 1 {
		return fmt.Errorf("sandbox.port_window must be at least 1")
	}
	if c.Sandbox.ReadyTimeout <= 0 {
		return fmt.Errorf("sandbox.ready_timeout must be positive")
	}
	if c.Sandbox.KillGrace <= 0 {
		return fmt.Errorf("sandbox.kill_grace must be positive")
	}
	if c.Session.CleanupGrace <= 0 {
		return fmt.Errorf("session.cleanup_grace must be positive")
	}
	if c.Session.SweepSchedule == "" {
		return fmt.Errorf("session.sweep_schedule is required")
	}
	return nil
}
