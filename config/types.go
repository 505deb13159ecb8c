package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kys42/remote-agent/logging"
)

// Duration wraps time.Duration so YAML values can use Go duration
// syntax ("30s", "5m") or bare integers meaning seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}

	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure loaded from remote-agent.yml.
type Config struct {
	Server  ServerConfig           `yaml:"server"`
	Limits  LimitsConfig           `yaml:"limits"`
	Logging logging.Config         `yaml:"logging"`
	Agents  map[string]AgentConfig `yaml:"agents"`
}

// ServerConfig configures the daemon's HTTP transport.
type ServerConfig struct {
	// Listen is the TCP address to serve on (e.g., "127.0.0.1:8420").
	// Ignored when Socket is set.
	Listen string `yaml:"listen"`

	// Socket is a unix socket path. Takes precedence over Listen.
	Socket string `yaml:"socket"`

	// PidFile is the daemon PID file path.
	PidFile string `yaml:"pid_file"`
}

// LimitsConfig configures session lifecycle limits.
type LimitsConfig struct {
	// MaxSessions is the global cap on concurrently live sessions.
	MaxSessions int `yaml:"max_sessions"`

	// SessionTimeout is the absolute session lifetime before forced end.
	SessionTimeout Duration `yaml:"session_timeout"`

	// IdleThreshold demotes a session to idle after this much inactivity.
	IdleThreshold Duration `yaml:"idle_threshold"`

	// BacklogCapacity bounds the per-session buffer of undelivered
	// output lines. Oldest lines are dropped when full.
	BacklogCapacity int `yaml:"backlog_capacity"`

	// GracePeriod is how long termination waits between SIGTERM and SIGKILL.
	GracePeriod Duration `yaml:"grace_period"`

	// SweepInterval is how often the manager scans sessions for
	// idle/timeout transitions.
	SweepInterval Duration `yaml:"sweep_interval"`

	// Retention is how long terminal session metadata stays queryable
	// before being reaped.
	Retention Duration `yaml:"retention"`
}

// AgentConfig describes how to launch one agent type.
type AgentConfig struct {
	Type            string   `yaml:"type"`
	Executable      string   `yaml:"executable"`
	DefaultArgs     []string `yaml:"default_args"`
	CommandTemplate string   `yaml:"command_template"`
	MaxSessions     int      `yaml:"max_sessions"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8420",
		},
		Limits: LimitsConfig{
			MaxSessions:     20,
			SessionTimeout:  Duration(time.Hour),
			IdleThreshold:   Duration(5 * time.Minute),
			BacklogCapacity: 1000,
			GracePeriod:     Duration(5 * time.Second),
			SweepInterval:   Duration(5 * time.Second),
			Retention:       Duration(time.Minute),
		},
		Agents: map[string]AgentConfig{
			"claude_code": {
				Type:        "claude_code",
				Executable:  "claude",
				MaxSessions: 10,
			},
			"gemini_cli": {
				Type:        "gemini_cli",
				Executable:  "gemini",
				DefaultArgs: []string{"--format", "json"},
				MaxSessions: 5,
			},
		},
	}
}
