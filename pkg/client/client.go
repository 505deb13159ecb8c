// Package client provides an HTTP client for the remote-agent daemon API.
// It speaks the same protocol over a unix socket or a TCP address.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/sessions"
)

// socketBaseURL is the dummy host used for unix socket HTTP requests.
// The actual connection goes through the socket, not this URL.
const socketBaseURL = "http://unix"

// Client calls the daemon's HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewSocketClient creates a Client that dials the daemon's unix socket.
func NewSocketClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
	}

	// No client-level timeout: streaming endpoints stay open indefinitely.
	// Callers bound individual calls with contexts.
	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    socketBaseURL,
	}
}

// NewTCPClient creates a Client for a daemon listening on a TCP address.
func NewTCPClient(addr string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    "http://" + addr,
	}
}

// Health reports whether the daemon is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ListAgents returns the registered agent definitions.
func (c *Client) ListAgents(ctx context.Context) ([]*agent.Definition, error) {
	var out struct {
		Agents []*agent.Definition `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// RegisterAgent registers a custom agent definition with the daemon.
func (c *Client) RegisterAgent(ctx context.Context, def *agent.Definition) error {
	return c.do(ctx, http.MethodPost, "/api/agents", def, nil)
}

// CreateSession starts a new agent session and returns its snapshot.
func (c *Client) CreateSession(ctx context.Context, userID, agentType, workdir string) (sessions.Info, error) {
	req := map[string]string{
		"user_id":           userID,
		"agent_type":        agentType,
		"working_directory": workdir,
	}
	var info sessions.Info
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &info); err != nil {
		return sessions.Info{}, err
	}
	return info, nil
}

// ListSessions returns live sessions, optionally filtered by user.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]sessions.Info, error) {
	path := "/api/sessions"
	if userID != "" {
		path += "?user_id=" + userID
	}
	var out struct {
		Sessions []sessions.Info `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SessionStatus returns a session snapshot.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (sessions.Info, error) {
	var info sessions.Info
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID, nil, &info); err != nil {
		return sessions.Info{}, err
	}
	return info, nil
}

// Submit sends one line of input to a session's agent.
func (c *Client) Submit(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/submit",
		map[string]string{"text": text}, nil)
}

// SwitchAgent replaces a session's agent and returns the updated snapshot.
func (c *Client) SwitchAgent(ctx context.Context, sessionID, agentType string) (sessions.Info, error) {
	var info sessions.Info
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/switch",
		map[string]string{"agent_type": agentType}, &info)
	if err != nil {
		return sessions.Info{}, err
	}
	return info, nil
}

// EndSession gracefully terminates a session.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil, nil)
}

// StreamOutput attaches to a session's output stream. Events arrive on the
// returned channel until the session ends or ctx is cancelled; the channel
// is closed either way.
func (c *Client) StreamOutput(ctx context.Context, sessionID string) (<-chan sessions.OutputEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/sessions/"+sessionID+"/stream", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	events := make(chan sessions.OutputEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev sessions.OutputEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			if ev.SessionID == "" {
				// The end-of-stream marker carries no session.
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError rebuilds a coded error from the daemon's JSON error body.
func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if body.Code != "" {
		return errors.New(errors.ErrorCode(body.Code), body.Error)
	}
	return fmt.Errorf("%s", body.Error)
}
