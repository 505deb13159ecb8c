// Package paths provides XDG-compliant path resolution for remote-agent.
//
// Resolution order:
// 1. REMOTE_AGENT_HOME (portable root) → $REMOTE_AGENT_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/remote-agent
// 3. Platform defaults → ~/.config/remote-agent, ~/.local/state/remote-agent
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("REMOTE_AGENT_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("REMOTE_AGENT_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the remote-agent configuration directory.
// Used for config files like remote-agent.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "remote-agent")
}

// StateDir returns the remote-agent state directory.
// Used for the PID file and log files.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "remote-agent")
}

// RuntimeDir returns the runtime directory for sockets and pipes.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("REMOTE_AGENT_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "remote-agent")
	}
	return StateDir()
}

// SocketPath returns the default path of the daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "remote-agent.sock")
}

// PidFilePath returns the default path of the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "remote-agent.pid")
}

// LogFilePath returns the default path of the daemon log file.
func LogFilePath() string {
	return filepath.Join(StateDir(), "remote-agent.log")
}

// EnsureDirs creates all remote-agent directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
