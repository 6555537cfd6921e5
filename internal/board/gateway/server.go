// Package gateway exposes the board over HTTP: the websocket live channel,
// the bootstrap fetch, icon uploads, health and metrics.
//
// Every live session gets a UUID and a hello frame carrying it. Frames a
// session sends are handed to the synchronization engine one at a time, in
// arrival order, with the server's context rather than the connection's, so
// a client hanging up never cancels an intent that already started.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/assets"
	"github.com/steveyegge/launchboard/internal/board/schema"
	boardsync "github.com/steveyegge/launchboard/internal/board/sync"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":3001")
	Addr string

	// AllowedOrigin is the browser origin allowed to use the REST routes and
	// the live channel, e.g. "http://localhost:3000". Empty or "*" allows all.
	AllowedOrigin string

	// Assets enables POST /items. Nil disables uploads.
	Assets assets.Store

	// ReadLimit caps the size of one inbound frame (default: 1 MiB).
	ReadLimit int64

	// Gatherer serves /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Logger for server activity (default: standard logrus logger)
	Logger *log.Entry
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:      ":3001",
		ReadLimit: 1 << 20,
	}
}

// Server manages live sessions and the REST routes of the board.
type Server struct {
	cfg    Config
	engine *boardsync.Engine
	hub    *Hub

	listener net.Listener
	server   *http.Server
	origin   atomic.Value // string

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *log.Entry
}

// NewServer creates a board server. The hub must be the Broadcaster the
// engine was built with.
func NewServer(engine *boardsync.Engine, hub *Hub, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "gateway")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		engine: engine,
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
		log:    cfg.Logger,
	}
	s.origin.Store(cfg.AllowedOrigin)
	return s
}

// SetAllowedOrigin replaces the allowed origin. Safe to call while serving.
func (s *Server) SetAllowedOrigin(origin string) {
	s.origin.Store(origin)
	s.log.WithField("origin", origin).Info("allowed origin updated")
}

// AllowedOrigin returns the current allowed origin.
func (s *Server) AllowedOrigin() string {
	return s.origin.Load().(string)
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	for _, prefix := range []string{"", "/api"} {
		mux.Handle("GET "+prefix+"/initial-state", s.cors(http.HandlerFunc(s.handleInitialState)))
		mux.Handle("OPTIONS "+prefix+"/initial-state", s.cors(http.HandlerFunc(handlePreflight)))
		if s.cfg.Assets != nil {
			mux.Handle("POST "+prefix+"/items", s.cors(http.HandlerFunc(s.handleUpload)))
			mux.Handle("OPTIONS "+prefix+"/items", s.cors(http.HandlerFunc(handlePreflight)))
		}
	}
	if local, ok := s.cfg.Assets.(*assets.Local); ok {
		mux.Handle("GET "+assets.LocalPathPrefix, local)
	}
	return mux
}

// Start begins the HTTP server and the live channel
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithField("addr", ln.Addr().String()).Info("board server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. In-flight intents are cancelled.
func (s *Server) Stop() error {
	s.log.Info("stopping board server")

	// Signal shutdown
	s.cancel()

	// Close all live sessions
	s.hub.Close()

	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	// Wait for goroutines
	s.wg.Wait()

	s.log.Info("board server stopped")
	return shutdownErr
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// handleWebSocket upgrades HTTP connections to the live channel
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.AllowedOrigin()),
	})
	if err != nil {
		s.log.WithError(err).WithField("origin", r.Header.Get("Origin")).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	sess := &session{id: uuid.NewString(), conn: conn, connected: time.Now()}

	// Hello goes out before the session is registered, so it always precedes
	// any broadcast.
	hello, err := schema.NewEnvelope(schema.EventHello, schema.HelloEvent{SessionID: sess.id})
	if err == nil {
		err = writeEnvelope(s.ctx, conn, hello)
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to greet session")
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}

	s.hub.add(sess)

	s.wg.Add(1)
	go s.readLoop(sess)
}

// readLoop hands every inbound frame of one session to the engine, in order.
func (s *Server) readLoop(sess *session) {
	defer s.wg.Done()

	for {
		_, data, err := sess.conn.Read(s.ctx)
		if err != nil {
			entry := s.log.WithField("session", sess.id)
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				entry.Debug("session closed by peer")
			case s.ctx.Err() != nil:
			default:
				entry.WithError(err).Warn("session read failed")
			}
			s.hub.remove(sess.id, websocket.StatusNormalClosure, "")
			return
		}
		// Failures are already logged and announced by the engine.
		_ = s.engine.HandleFrame(s.ctx, sess.id, data)
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Count(),
	})
}

// handleInitialState serves the bootstrap fetch.
func (s *Server) handleInitialState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.InitialState(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to fetch initial state")
		writeError(w, http.StatusInternalServerError, "Failed to fetch initial state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// cors applies the allowed origin to REST routes.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.AllowedOrigin()
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// originPatterns converts an allowed origin into websocket host patterns.
func originPatterns(origin string) []string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}
