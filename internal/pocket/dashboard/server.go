// Package dashboard serves a live view of the replica over HTTP.
//
// Connected WebSocket clients receive sync, reconcile and index events as
// they happen; a small JSON API exposes stored items and lets a client
// trigger a sync, a reconciliation or an index rebuild.
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
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mschirtzinger/pocketsync/internal/metrics"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncComplete indicates a sync pass completed
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeReconcileComplete indicates a tag reconciliation completed
	MessageTypeReconcileComplete MessageType = "reconcile_complete"

	// MessageTypeIndexUpdate indicates the URL index changed
	MessageTypeIndexUpdate MessageType = "index_update"

	// MessageTypeStats indicates updated replica statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsData summarizes the replica.
type StatsData struct {
	Items        int            `json:"items"`
	ByStatus     map[string]int `json:"by_status"`
	Cursor       int64          `json:"cursor,omitempty"`
	IndexEntries int            `json:"index_entries"`
	Syncing      bool           `json:"syncing"`
	Reconciling  bool           `json:"reconciling"`
}

// Server serves the dashboard routes and streams events to WebSocket
// clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	backend  Backend
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Backend serves the JSON API. Without one only /ws, /health and
	// /metrics are available.
	Backend Backend

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		backend: config.Backend,
		hub:     newHub(config.Logger),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.backend != nil {
		api := &api{backend: s.backend, logger: s.logger}
		r.Route("/api", func(r chi.Router) {
			r.Get("/items", api.handleListItems)
			r.Get("/items/{id}", api.handleGetItem)
			r.Get("/status", api.handleStatus)
			r.Post("/sync", api.handleSync)
			r.Post("/reconcile", api.handleReconcile)
			r.Post("/index/rebuild", api.handleRebuildIndex)
		})
	}
	return r
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		// Sync and reconcile requests wait for a full remote round trip.
		WriteTimeout: 2 * time.Minute,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.hub.closeAll(websocket.StatusGoingAway, "Server shutting down")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends msg to every connected client. It never blocks; a
// client that cannot keep up is disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}
	s.hub.publish(frame)
}

// handleWebSocket upgrades the connection, greets the client with the
// current stats and then serves it until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	welcome := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if s.backend != nil {
		if stats, err := s.backend.Stats(r.Context()); err == nil {
			welcome.Data, _ = json.Marshal(stats)
		}
	}
	// Queued before registration, so it is always the first frame.
	if frame, err := json.Marshal(welcome); err == nil {
		c.enqueue(frame)
	}

	n := s.hub.add(c)
	s.logger.Printf("Client connected (total: %d)", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.writeLoop(s.ctx, c)
	}()

	// Reading processes control frames and notices the close handshake.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			break
		}
	}
	s.hub.remove(c, websocket.StatusNormalClosure, "")
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>pocketsync</title>
</head>
<body>
    <h1>pocketsync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Items: <a href="/api/items">/api/items</a>, status: <a href="/api/status">/api/status</a></p>
    <p>Health check: <a href="/health">/health</a>, metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.count()
}
