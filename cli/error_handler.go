package cli

import (
	"fmt"
	"os"

	"github.com/kys42/remote-agent/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "❌ Configuration not found. Create a remote-agent.yml or pass --config.\n")
		return err

	case errors.ErrCodeUnknownAgentType:
		if agentErr, ok := err.(*errors.AgentError); ok {
			fmt.Fprintf(os.Stderr, "❌ Agent type '%s' is not registered\n", agentErr.Details["agentType"])
			fmt.Fprintf(os.Stderr, "Run 'remote-agent agents' to see available agent types.\n")
		}
		return err

	case errors.ErrCodeQuotaExceeded:
		fmt.Fprintf(os.Stderr, "❌ Session limit reached. End an existing session or raise max_sessions.\n")
		return err

	case errors.ErrCodeSessionNotFound:
		if agentErr, ok := err.(*errors.AgentError); ok {
			fmt.Fprintf(os.Stderr, "❌ Session '%s' not found\n", agentErr.Details["sessionId"])
			fmt.Fprintf(os.Stderr, "Run 'remote-agent sessions' to list live sessions.\n")
		}
		return err

	case errors.ErrCodeSpawnFailure:
		if agentErr, ok := err.(*errors.AgentError); ok {
			fmt.Fprintf(os.Stderr, "❌ Failed to launch agent executable '%s'\n", agentErr.Details["executable"])
			fmt.Fprintf(os.Stderr, "Check the executable path in remote-agent.yml.\n")
		}
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)

		// If verbose mode, show full error details
		if h.Verbose {
			if agentErr, ok := err.(*errors.AgentError); ok {
				fmt.Fprintf(os.Stderr, "\nError details:\n%s\n", agentErr.ToJSON())
			}
		}
		return err
	}
}
