package errors

import (
	"fmt"
	"os/exec"
)

// InvalidDefinition creates an invalid agent definition error
func InvalidDefinition(reason string) *AgentError {
	return New(ErrCodeInvalidDefinition, fmt.Sprintf("invalid agent definition: %s", reason))
}

// UnknownAgentType creates an unknown agent type error
func UnknownAgentType(agentType string) *AgentError {
	return New(ErrCodeUnknownAgentType, fmt.Sprintf("unknown agent type: %s", agentType)).
		WithDetail("agentType", agentType)
}

// QuotaExceeded creates a session quota error
func QuotaExceeded(scope string, limit int) *AgentError {
	return New(ErrCodeQuotaExceeded,
		fmt.Sprintf("session limit reached for %s (max %d)", scope, limit)).
		WithDetail("scope", scope).
		WithDetail("limit", limit)
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *AgentError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("sessionId", sessionID)
}

// SessionNotActive creates a session not active error
func SessionNotActive(sessionID, state string) *AgentError {
	return New(ErrCodeSessionNotActive,
		fmt.Sprintf("session '%s' cannot accept input in state %s", sessionID, state)).
		WithDetail("sessionId", sessionID).
		WithDetail("state", state)
}

// SubscriberConflict creates a subscriber conflict error
func SubscriberConflict(sessionID string) *AgentError {
	return New(ErrCodeSubscriberConflict,
		fmt.Sprintf("session '%s' already has an active subscriber", sessionID)).
		WithDetail("sessionId", sessionID)
}

// SpawnFailure creates a process spawn failure error
func SpawnFailure(executable string, err error) *AgentError {
	agentErr := Wrap(err, ErrCodeSpawnFailure, fmt.Sprintf("failed to spawn process: %s", executable)).
		WithDetail("executable", executable)

	// Extract exit code if available
	if exitErr, ok := err.(*exec.ExitError); ok {
		agentErr = agentErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return agentErr
}

// ProcessNotRunning creates a process not running error
func ProcessNotRunning(sessionID string) *AgentError {
	return New(ErrCodeProcessNotRunning,
		fmt.Sprintf("process for session '%s' is not running", sessionID)).
		WithDetail("sessionId", sessionID)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *AgentError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *AgentError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}
