package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/pkg/paths"
)

// Load reads configuration from the given path, or searches for a
// remote-agent.yml starting in the working directory when path is empty.
// A missing file is not an error: defaults (plus env overrides) apply.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := findConfigFile()
		if err != nil {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file")
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromBytes parses YAML configuration, filling unset fields with defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config file")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Limits.MaxSessions <= 0 {
		return errors.ConfigInvalid("limits.max_sessions must be positive")
	}
	if cfg.Limits.BacklogCapacity <= 0 {
		return errors.ConfigInvalid("limits.backlog_capacity must be positive")
	}
	if cfg.Limits.SessionTimeout.Std() <= cfg.Limits.IdleThreshold.Std() {
		return errors.ConfigInvalid("limits.session_timeout must exceed limits.idle_threshold")
	}
	for name, agent := range cfg.Agents {
		if agent.Executable == "" {
			return errors.ConfigInvalid("agents." + name + ".executable must be set")
		}
		if agent.MaxSessions <= 0 {
			return errors.ConfigInvalid("agents." + name + ".max_sessions must be positive")
		}
	}
	return nil
}

// applyEnvOverrides applies environment variables on top of loaded values.
// These are the variables the launcher scripts historically used.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.MaxSessions = n
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.SessionTimeout = Duration(time.Duration(n) * time.Second)
		}
	}
	if v := os.Getenv("REMOTE_AGENT_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("CLAUDE_CODE_PATH"); v != "" {
		if agent, ok := cfg.Agents["claude_code"]; ok {
			agent.Executable = v
			cfg.Agents["claude_code"] = agent
		}
	}
	if v := os.Getenv("GEMINI_CLI_PATH"); v != "" {
		if agent, ok := cfg.Agents["gemini_cli"]; ok {
			agent.Executable = v
			cfg.Agents["gemini_cli"] = agent
		}
	}
}

// findConfigFile searches from the working directory up to the filesystem
// root, then falls back to the XDG config directory.
func findConfigFile() (string, error) {
	configNames := []string{
		"remote-agent.yml",
		"remote-agent.yaml",
		".remote-agent.yml",
		".remote-agent.yaml",
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if configDir := paths.ConfigDir(); configDir != "" {
		path := filepath.Join(configDir, "remote-agent.yml")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", errors.ConfigNotFound("remote-agent.yml")
}
