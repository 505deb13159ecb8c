package sessions

import (
	"time"

	"github.com/kys42/remote-agent/runner"
)

// State is a session's lifecycle state.
type State string

const (
	// StateCreating: the process runner is being started.
	StateCreating State = "creating"
	// StateRunning: process alive with recent activity.
	StateRunning State = "running"
	// StateIdle: no activity past the idle threshold, process still alive.
	StateIdle State = "idle"
	// StateEnding: termination has been requested.
	StateEnding State = "ending"
	// StateEnded: terminal, ended on request or timeout.
	StateEnded State = "ended"
	// StateFailed: terminal, the process failed to spawn or crashed.
	StateFailed State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Active reports whether the session can accept input.
func (s State) Active() bool {
	return s == StateRunning || s == StateIdle
}

// OutputEvent is one line of agent output attributed to a session.
type OutputEvent struct {
	SessionID string        `json:"session_id"`
	Stream    runner.Stream `json:"stream"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
}

// StateChange announces a session lifecycle transition.
type StateChange struct {
	SessionID string `json:"session_id"`
	OldState  State  `json:"old_state"`
	NewState  State  `json:"new_state"`
	Reason    string `json:"reason,omitempty"`
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	AgentType        string    `json:"agent_type"`
	State            State     `json:"state"`
	WorkingDirectory string    `json:"working_directory"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	BacklogDepth     int       `json:"backlog_depth"`
	ExitReason       string    `json:"exit_reason,omitempty"`
}
