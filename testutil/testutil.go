// Package testutil provides helpers for tests that need throwaway agent
// executables: shell scripts standing in for real CLI agents.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kys42/remote-agent/agent"
)

// WriteScript writes an executable /bin/sh script into a temporary
// directory and returns its path. The file is cleaned up with the test.
func WriteScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-agent")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// ScriptDefinition builds a registry-ready definition around a throwaway
// script.
func ScriptDefinition(t *testing.T, id, body string) *agent.Definition {
	t.Helper()

	return &agent.Definition{
		ID:          id,
		Type:        agent.TypeCustom,
		Executable:  WriteScript(t, body),
		MaxSessions: 5,
	}
}

// EchoScript is a fake agent that prefixes every input line and echoes it
// back, the shape most tests want.
const EchoScript = `while read line; do echo "agent: $line"; done`

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
