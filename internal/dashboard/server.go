// Package dashboard provides a real-time WebSocket and HTTP view of
// reconciliation activity.
//
// The server broadcasts run outcomes to connected WebSocket clients and
// serves run history over a small JSON API. It can also trigger an
// immediate reconciliation when the daemon is attached.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ledgersync/ledgersync/internal/engine"
	"github.com/ledgersync/ledgersync/internal/history"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeRunComplete indicates a reconciliation run finished
	MessageTypeRunComplete MessageType = "run_complete"

	// MessageTypeRunStarted indicates a reconciliation run was triggered
	MessageTypeRunStarted MessageType = "run_started"

	// MessageTypeHello is sent to a client on connect
	MessageTypeHello MessageType = "hello"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RunEventData summarizes a finished run for broadcast.
type RunEventData struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	DryRun  bool   `json:"dry_run"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
	Summary string `json:"summary"`
}

// Trigger starts reconciliation runs on demand. The daemon implements it.
type Trigger interface {
	TriggerNow() bool
	Running() bool
}

// RunSource serves recorded run history. The history store implements it.
type RunSource interface {
	LastRuns(ctx context.Context, limit int) ([]history.Run, error)
	Stats(ctx context.Context) (*history.Stats, error)
}

// Server manages WebSocket connections and the dashboard API.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	trigger Trigger
	runs    RunSource

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: localhost:8990)
	Addr string

	// Trigger for POST /api/sync. Nil disables manual triggering.
	Trigger Trigger

	// Runs backs GET /api/runs and /api/stats. Nil disables history.
	Runs RunSource

	// Logger for server activity (default: log.Default())
	Logger *log.Logger
}

// NewServer creates a dashboard server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = "localhost:8990"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		trigger:   config.Trigger,
		runs:      config.Runs,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/sync", s.handleSync)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return nil
}

// BroadcastRun sends a finished run to all connected clients.
func (s *Server) BroadcastRun(outcome *engine.RunOutcome) {
	data, err := json.Marshal(RunEventData{
		RunID:   outcome.RunID,
		Success: outcome.Success,
		DryRun:  outcome.DryRun,
		Created: outcome.Created,
		Updated: outcome.Updated,
		Deleted: outcome.Deleted,
		Skipped: outcome.Skipped,
		Failed:  outcome.Failed,
		Error:   outcome.Error,
		Summary: outcome.Summary(),
	})
	if err != nil {
		s.logger.Printf("Failed to marshal run event: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeRunComplete, Timestamp: time.Now(), Data: data})
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the lock so a slow client cannot stall
			// broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are ignored.
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	running := false
	if s.trigger != nil {
		running = s.trigger.Running()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"clients":     clientCount,
		"sync_active": running,
	})
}

// handleRuns serves recent run history.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.runs.LastRuns(r.Context(), limit)
	if err != nil {
		s.logger.Printf("Failed to query runs: %v", err)
		http.Error(w, "failed to query runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// handleStats serves aggregate history statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}

	stats, err := s.runs.Stats(r.Context())
	if err != nil {
		s.logger.Printf("Failed to query stats: %v", err)
		http.Error(w, "failed to query stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// handleSync triggers an immediate reconciliation.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.trigger == nil {
		http.Error(w, "manual sync not available", http.StatusNotFound)
		return
	}

	if !s.trigger.TriggerNow() {
		http.Error(w, "sync already running", http.StatusConflict)
		return
	}

	s.Broadcast(Message{Type: MessageTypeRunStarted, Timestamp: time.Now()})
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>ledgersync Dashboard</title>
</head>
<body>
    <h1>ledgersync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Recent runs: <a href="/api/runs">/api/runs</a></p>
    <p>Statistics: <a href="/api/stats">/api/stats</a></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Trigger a sync: <code>POST /api/sync</code></p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
