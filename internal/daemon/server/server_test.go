package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/sessions"
	"github.com/kys42/remote-agent/testutil"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(&agent.Definition{
		ID: "echo", Type: agent.TypeCustom, Executable: "/bin/cat", MaxSessions: 4,
	}))

	manager := sessions.NewManager(registry, config.LimitsConfig{
		MaxSessions:     8,
		SessionTimeout:  config.Duration(time.Hour),
		IdleThreshold:   config.Duration(time.Minute),
		BacklogCapacity: 100,
		GracePeriod:     config.Duration(500 * time.Millisecond),
		SweepInterval:   config.Duration(time.Hour),
		Retention:       config.Duration(time.Minute),
	})

	srv := New(manager, registry)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createSession(t *testing.T, ts *httptest.Server) sessions.Info {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"user_id":           "u1",
		"agent_type":        "echo",
		"working_directory": t.TempDir(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info sessions.Info
	decodeBody(t, resp, &info)
	return info
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	info := createSession(t, ts)
	require.NotEmpty(t, info.ID)
	require.Equal(t, sessions.StateRunning, info.State)

	// Listed for its owner.
	resp, err := http.Get(ts.URL + "/api/sessions?user_id=u1")
	require.NoError(t, err)
	var list struct {
		Sessions []sessions.Info `json:"sessions"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Sessions, 1)

	// Submit input, then stream: the echo agent returns it.
	resp = postJSON(t, ts.URL+"/api/sessions/"+info.ID+"/submit", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ev := readFirstSSEEvent(t, ts.URL+"/api/sessions/"+info.ID+"/stream")
	require.Equal(t, "hello", ev.Text)
	require.Equal(t, info.ID, ev.SessionID)

	// End and verify terminal status.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+info.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/sessions/" + info.ID)
	require.NoError(t, err)
	var ended sessions.Info
	decodeBody(t, resp, &ended)
	require.Equal(t, sessions.StateEnded, ended.State)
}

func readFirstSSEEvent(t *testing.T, url string) sessions.OutputEvent {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sessions.OutputEvent, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev sessions.OutputEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) == nil {
				events <- ev
				return
			}
		}
	}()

	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE event")
		return sessions.OutputEvent{}
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"user_id": "u1", "agent_type": "missing",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "UNKNOWN_AGENT_TYPE", body["code"])
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t)
	info := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+info.ID+"/submit", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/sessions/nope/submit", map[string]string{"text": "x"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterAgent(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/agents", map[string]interface{}{
		"id": "shell", "executable": "/bin/sh", "max_sessions": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	var list struct {
		Agents []agent.Definition `json:"agents"`
	}
	decodeBody(t, resp, &list)
	ids := make([]string, 0, len(list.Agents))
	for _, def := range list.Agents {
		ids = append(ids, def.ID)
	}
	require.Contains(t, ids, "shell")

	// Duplicate registration is rejected.
	resp = postJSON(t, ts.URL+"/api/agents", map[string]interface{}{
		"id": "shell", "executable": "/bin/sh", "max_sessions": 1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocketAttachAndSubmit(t *testing.T) {
	ts := newTestServer(t)
	info := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + info.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev sessions.OutputEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "ping", ev.Text)

	// A second attach while the socket holds the slot is refused.
	_, resp2, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp2 != nil {
		require.Equal(t, http.StatusConflict, resp2.StatusCode)
		resp2.Body.Close()
	}
}

func TestWebSocketSubmitErrorDuringFlush(t *testing.T) {
	// burst exits after writing 100 fat lines, leaving a backlog large
	// enough that the flush to a non-reading client blocks mid-stream.
	registry := agent.NewRegistry()
	script := "big=$(head -c 32768 /dev/zero | tr '\\0' x)\n" +
		"i=0\n" +
		"while [ $i -lt 100 ]; do echo \"$big\"; i=$((i+1)); done"
	require.NoError(t, registry.Register(testutil.ScriptDefinition(t, "burst", script)))

	manager := sessions.NewManager(registry, config.LimitsConfig{
		MaxSessions:     8,
		SessionTimeout:  config.Duration(time.Hour),
		IdleThreshold:   config.Duration(time.Minute),
		BacklogCapacity: 100,
		GracePeriod:     config.Duration(500 * time.Millisecond),
		SweepInterval:   config.Duration(time.Hour),
		Retention:       config.Duration(time.Minute),
	})
	srv := New(manager, registry)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	id, err := manager.CreateSession("u1", "burst", t.TempDir())
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := manager.Status(id)
		require.NoError(t, err)
		if info.State.Terminal() && info.BacklogDepth == 100 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backlog never filled: %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Let the flush fill the socket buffers and block, then submit to the
	// ended session: the reader goroutine reports the failure over the
	// connection the flush is still writing to.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("late")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	outputs, errorFrames := 0, 0
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"unexpected read error: %v", err)
			break
		}
		if code, ok := frame["code"]; ok {
			require.Equal(t, "SESSION_NOT_ACTIVE", code)
			errorFrames++
			continue
		}
		outputs++
	}
	require.Equal(t, 100, outputs)
	require.Equal(t, 1, errorFrames)
}
