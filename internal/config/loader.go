package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (optional), applies environment overrides
// and validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("SANDBOX_MODE"); v != "" {
		cfg.Sandbox.Mode = v
	}
	if v := os.Getenv("FORGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FORGE_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = p
		}
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("FORGE_SANDBOX_ROOT"); v != "" {
		cfg.Sandbox.Root = v
	}
	if v := os.Getenv("FORGE_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.TurnTimeout = d
		}
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
