// Package agent provides the catalog of launchable agent types.
//
// A Definition is a static template describing how to launch one kind of
// command-line agent (claude, gemini, or any custom executable). Definitions
// are immutable after registration; the session layer instantiates them
// without knowing anything agent-specific beyond the launch parameters.
package agent

import (
	"strings"
)

// Type tags a definition with the kind of agent it launches.
type Type string

const (
	TypeClaudeCode Type = "claude_code"
	TypeGeminiCLI  Type = "gemini_cli"
	TypeCustom     Type = "custom"
)

// Definition describes how to launch one agent type.
// Immutable after registration.
type Definition struct {
	// ID uniquely identifies this definition in the registry.
	ID string `json:"id"`

	// Type tags the agent kind. Unrecognized tags are treated as custom.
	Type Type `json:"type"`

	// Executable is the path or name of the agent binary.
	Executable string `json:"executable"`

	// DefaultArgs are always passed to the process at launch.
	DefaultArgs []string `json:"default_args,omitempty"`

	// CommandTemplate optionally overrides the launch command line.
	// Recognized placeholders: {executable}, {message}, {workdir}, {flags}.
	CommandTemplate string `json:"command_template,omitempty"`

	// MaxSessions caps concurrent sessions of this type.
	MaxSessions int `json:"max_sessions"`
}

// LaunchCommand produces the executable and argument list used to start a
// session process. message is the initial prompt and may be empty for
// interactive agents that take input on stdin.
func (d *Definition) LaunchCommand(workdir, message string) (string, []string) {
	if d.CommandTemplate == "" {
		args := append([]string(nil), d.DefaultArgs...)
		if message != "" {
			args = append(args, message)
		}
		return d.Executable, args
	}

	expanded := expandTemplate(d.CommandTemplate, map[string]string{
		"executable": d.Executable,
		"message":    message,
		"workdir":    workdir,
		"flags":      strings.Join(d.DefaultArgs, " "),
	})

	fields := strings.Fields(expanded)
	if len(fields) == 0 {
		return d.Executable, nil
	}
	return fields[0], fields[1:]
}

// expandTemplate substitutes {name} placeholders. Unknown placeholders are
// left untouched so a malformed template fails visibly rather than silently.
func expandTemplate(template string, values map[string]string) string {
	out := template
	for key, value := range values {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
