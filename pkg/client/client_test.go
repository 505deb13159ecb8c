package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/internal/daemon/server"
	"github.com/kys42/remote-agent/sessions"
	"github.com/kys42/remote-agent/testutil"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(testutil.ScriptDefinition(t, "scripted", testutil.EchoScript)))

	manager := sessions.NewManager(registry, config.LimitsConfig{
		MaxSessions:     8,
		SessionTimeout:  config.Duration(time.Hour),
		IdleThreshold:   config.Duration(time.Minute),
		BacklogCapacity: 100,
		GracePeriod:     config.Duration(500 * time.Millisecond),
		SweepInterval:   config.Duration(time.Hour),
		Retention:       config.Duration(time.Minute),
	})

	ts := httptest.NewServer(server.New(manager, registry).Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	return NewTCPClient(strings.TrimPrefix(ts.URL, "http://"))
}

func TestClientSessionLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "scripted", agents[0].ID)

	info, err := c.CreateSession(ctx, "u1", "scripted", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, sessions.StateRunning, info.State)

	require.NoError(t, c.Submit(ctx, info.ID, "hello"))

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events, err := c.StreamOutput(streamCtx, info.ID)
	require.NoError(t, err)
	select {
	case ev := <-events:
		require.Equal(t, "agent: hello", ev.Text)
	case <-streamCtx.Done():
		t.Fatal("timed out waiting for streamed output")
	}
	cancel()

	list, err := c.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.EndSession(ctx, info.ID))
	ended, err := c.SessionStatus(ctx, info.ID)
	require.NoError(t, err)
	require.True(t, ended.State.Terminal())
}

func TestClientErrorCodesSurviveTransport(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateSession(ctx, "u1", "missing", t.TempDir())
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrCodeUnknownAgentType))

	_, err = c.SessionStatus(ctx, "nope")
	require.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	err = c.Submit(ctx, "nope", "hi")
	require.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))
}

func TestClientRegisterAgent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.RegisterAgent(ctx, &agent.Definition{
		ID: "shell", Executable: "/bin/sh", MaxSessions: 1,
	})
	require.NoError(t, err)

	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
}
