// Package server is the reference hsschat server: a websocket hub speaking the
// JSON protocol of pkg/protocol plus the avatar HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server represents the hsschat server
type Server struct {
	config   ServerConfig
	sessions *SessionManager
	history  *History
	metrics  *Metrics
	registry *prometheus.Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	listener   net.Listener
	httpServer *http.Server
	shutdown   chan struct{}
	wg         sync.WaitGroup
	startTime  time.Time

	now func() time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPAddr          string
	AvatarDir         string
	MetricsEnabled    bool
	MaxNameLength     int
	HistoryPerChannel int
	MaxMessageLength  int
	MaxAvatarBytes    int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8000",
		AvatarDir:         "avatars",
		MetricsEnabled:    true,
		MaxNameLength:     32,
		HistoryPerChannel: 200,
		MaxMessageLength:  4096,
		MaxAvatarBytes:    2 << 20,
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig, logger zerolog.Logger) (*Server, error) {
	if err := os.MkdirAll(config.AvatarDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)

	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	s := &Server{
		config:   config,
		sessions: sessions,
		history:  NewHistory(config.HistoryPerChannel),
		metrics:  metrics,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		now:       time.Now,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Post("/upload-avatar", s.handleUploadAvatar)
		r.Post("/remove-avatar", s.handleRemoveAvatar)
		r.Get("/avatars/{name}", s.handleServeAvatar)
	})

	if s.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler serving every endpoint
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
	return nil
}

// Addr returns the bound listen address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every session with a going-away frame and shuts the HTTP
// server down.
func (s *Server) Stop() error {
	select {
	case <-s.shutdown:
		return nil
	default:
		close(s.shutdown)
	}

	for _, sess := range s.sessions.All() {
		_ = sess.Conn.CloseWith(websocket.CloseGoingAway, "server shutdown")
	}

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	s.logger.Info().Msg("Server stopped")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sessions":       s.sessions.CountOnline(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	ws.SetReadLimit(protocol.MaxFrameSize)

	sess := s.sessions.CreateSession(NewSafeConn(ws))
	logger := s.logger.With().Str("session", sess.ID).Str("remote", sess.RemoteAddr).Logger()
	logger.Debug().Msg("Session opened")

	s.messageLoop(sess, logger)

	s.disconnect(sess)
	_ = sess.Conn.Close()
	logger.Debug().Msg("Session closed")
}

// messageLoop reads commands until the client leaves or the link drops.
func (s *Server) messageLoop(sess *Session, logger zerolog.Logger) {
	for {
		msgType, data, err := sess.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.metrics.RecordRejectedFrame()
			continue
		}

		cmd, err := protocol.DecodeClientCommand(data)
		if err != nil {
			s.metrics.RecordRejectedFrame()
			logger.Debug().Err(err).Msg("Ignoring invalid frame")
			continue
		}

		if _, ok := cmd.(*protocol.LeaveCommand); ok {
			return
		}
		if err := s.handleCommand(sess, cmd); err != nil {
			logger.Warn().Err(err).Str("type", cmd.Type()).Msg("Command failed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
