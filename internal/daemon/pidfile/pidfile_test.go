package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	require.NoError(t, Acquire(path))

	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	running, pid, err := IsRunning(path)
	require.NoError(t, err)
	require.True(t, running)
	require.Equal(t, os.Getpid(), pid)

	// A second acquire against a live holder is refused.
	require.Error(t, Acquire(path))

	require.NoError(t, Release(path))
	running, _, err = IsRunning(path)
	require.NoError(t, err)
	require.False(t, running)
}

func TestAcquireReplacesStalePidfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// A PID far beyond pid_max cannot belong to a live process.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0644))

	require.NoError(t, Acquire(path))
	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}
