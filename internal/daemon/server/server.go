// Package server provides the HTTP transport for the remote-agent daemon.
//
// It exposes the session manager over three surfaces: a JSON REST API for
// lifecycle operations, Server-Sent Events for one-way output and
// state-change streaming, and a WebSocket for bidirectional attach+submit.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/logging"
	"github.com/kys42/remote-agent/sessions"
	"github.com/kys42/remote-agent/version"
)

// Server manages the daemon's HTTP server over a TCP address or unix socket.
type Server struct {
	logger   *logrus.Entry
	server   *http.Server
	manager  *sessions.Manager
	registry *agent.Registry

	startedAt time.Time
}

// New creates a new Server around a session manager and agent registry.
func New(manager *sessions.Manager, registry *agent.Registry) *Server {
	return &Server{
		logger:    logging.NewLogger("server"),
		manager:   manager,
		registry:  registry,
		startedAt: time.Now(),
	}
}

// ListenAndServe starts the daemon on the configured transport. A unix
// socket path takes precedence over the TCP listen address. It blocks
// until the server stops or fails.
func (s *Server) ListenAndServe(cfg config.ServerConfig) error {
	listener, err := s.listen(cfg)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler: s.routes(),
	}

	s.logger.WithField("addr", listener.Addr().String()).Info("Daemon listening")
	return s.server.Serve(listener)
}

// listen builds the transport listener.
func (s *Server) listen(cfg config.ServerConfig) (net.Listener, error) {
	if cfg.Socket != "" {
		// Cleanup stale socket
		if _, err := os.Stat(cfg.Socket); err == nil {
			if err := os.Remove(cfg.Socket); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket: %w", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0755); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		listener, err := net.Listen("unix", cfg.Socket)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket: %w", err)
		}
		if err := os.Chmod(cfg.Socket, 0600); err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("failed to set socket permissions: %w", err)
		}
		return listener, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	return listener, nil
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleRegisterAgent)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("POST /api/sessions/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/sessions/{id}/switch", s.handleSwitchAgent)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStreamOutput)

	mux.HandleFunc("GET /api/events", s.handleStreamEvents)
	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebSocket)

	return mux
}

// Handler exposes the route table so tests and embedders can mount it.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    version.Version,
		"started_at": s.startedAt,
		"sessions":   len(s.manager.ListSessions("")),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": s.registry.List(),
	})
}

// handleRegisterAgent registers a custom agent definition at runtime.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var def agent.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if def.Type == "" {
		def.Type = agent.TypeCustom
	}
	if err := s.registry.Register(&def); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("agentType", def.ID).Info("Agent definition registered")
	writeJSON(w, http.StatusCreated, def)
}

type createSessionRequest struct {
	UserID           string `json:"user_id"`
	AgentType        string `json:"agent_type"`
	WorkingDirectory string `json:"working_directory"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.AgentType == "" {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "agent_type is required"))
		return
	}
	if req.WorkingDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			writeError(w, err)
			return
		}
		req.WorkingDirectory = wd
	}

	id, err := s.manager.CreateSession(req.UserID, req.AgentType, req.WorkingDirectory)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.manager.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.manager.ListSessions(userID),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.EndSession(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "ended"})
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.Text == "" {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "text is required"))
		return
	}
	if err := s.manager.Submit(id, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "submitted"})
}

type switchRequest struct {
	AgentType string `json:"agent_type"`
}

func (s *Server) handleSwitchAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.AgentType == "" {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "agent_type is required"))
		return
	}
	if err := s.manager.SwitchAgent(id, req.AgentType); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.manager.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleStreamOutput attaches to a session and relays its output as
// Server-Sent Events. The subscriber slot is released when the client
// disconnects; the stream ends when the session does.
func (s *Server) handleStreamOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, err := s.manager.Attach(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.manager.Detach(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.WithField("sessionId", id).Debug("SSE output client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.WithField("sessionId", id).Debug("SSE output client disconnected")
			return
		case ev, open := <-ch:
			if !open {
				// Session ended and backlog drained.
				fmt.Fprintf(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal output event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleStreamEvents relays session state-change events as SSE.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.manager.Subscribe()
	defer s.manager.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE event client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE event client disconnected")
			return
		case change, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal state change")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// The daemon binds to loopback or a unix socket; cross-origin browser
// clients are not a supported surface.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket attaches to a session over a WebSocket. Outbound frames
// are JSON-encoded output events; inbound text frames are submitted to the
// agent as input lines.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ch, err := s.manager.Attach(id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.manager.Detach(id)
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	logger := s.logger.WithField("sessionId", id)
	logger.Debug("WebSocket client connected")

	done := make(chan struct{})

	// The connection carries frames from two goroutines (output events from
	// the writer, submit errors from the reader); gorilla allows only one
	// concurrent writer, so data writes go through this mutex.
	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Writer: session output to the socket.
	go func() {
		defer close(done)
		for ev := range ch {
			if err := writeJSON(ev); err != nil {
				return
			}
		}
		// Session ended; tell the client before closing.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			deadline)
	}()

	// Reader: client text frames become agent input.
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.manager.Submit(id, string(payload)); err != nil {
			_ = writeJSON(map[string]string{
				"error": err.Error(),
				"code":  string(errors.GetCode(err)),
			})
		}
	}

	s.manager.Detach(id)
	_ = conn.Close()
	<-done
	logger.Debug("WebSocket client disconnected")
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps session error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeSessionNotFound, errors.ErrCodeUnknownAgentType:
		status = http.StatusNotFound
	case errors.ErrCodeQuotaExceeded:
		status = http.StatusTooManyRequests
	case errors.ErrCodeSubscriberConflict, errors.ErrCodeSessionNotActive:
		status = http.StatusConflict
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidDefinition:
		status = http.StatusBadRequest
	case errors.ErrCodeSpawnFailure:
		status = http.StatusBadGateway
	}

	payload := map[string]string{"error": err.Error()}
	if code := errors.GetCode(err); code != "" {
		payload["code"] = string(code)
	}
	writeJSON(w, status, payload)
}
