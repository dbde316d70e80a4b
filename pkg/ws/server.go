// Package ws serves the menu protocol over WebSocket. Every text frame a
// client sends is one protocol line; every reply is one text frame.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/failfast"
	"github.com/fluxorio/mstflow/pkg/protocol"
	"github.com/gorilla/websocket"
)

// Config configures the WebSocket server
type Config struct {
	Addr         string
	Path         string
	WriteTimeout time.Duration
	Logger       core.Logger
}

// DefaultConfig returns the default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":9035",
		Path:         "/ws",
		WriteTimeout: 5 * time.Second,
	}
}

// Server upgrades HTTP requests and hands each connection to the protocol
// handler for the rest of its life.
type Server struct {
	config   Config
	handler  *protocol.Handler
	upgrader websocket.Upgrader
	logger   core.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	clients  map[*frameConn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a WebSocket server. Conversations see a context
// derived from ctx that is cancelled on Stop.
func NewServer(ctx context.Context, h *protocol.Handler, config Config) *Server {
	failfast.NotNil(ctx, "ctx")
	failfast.NotNil(h, "protocol handler")
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = core.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		config:  config,
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Menu clients are not browsers bound to an origin
			},
		},
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*frameConn]struct{}),
	}
}

// HandleWebSocket upgrades the request and serves the conversation
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	fc := newFrameConn(conn, s.config.WriteTimeout)
	if !s.track(fc) {
		_ = fc.Close()
		return
	}
	defer s.untrack(fc)

	if err := s.handler.ServeConn(s.ctx, fc, r.RemoteAddr); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			s.logger.Error("WebSocket read error", "error", err)
		}
	}
}

func (s *Server) track(fc *frameConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[fc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(fc *frameConn) {
	s.mu.Lock()
	delete(s.clients, fc)
	s.mu.Unlock()
	s.wg.Done()
}

// ListeningAddr returns the bound address, or "" before Start
func (s *Server) ListeningAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until Stop. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.HandleWebSocket)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.http = srv
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", s.config.Path)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, closes every live conversation and
// waits for them, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	srv := s.http
	clients := make([]*frameConn, 0, len(s.clients))
	for fc := range s.clients {
		clients = append(clients, fc)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	// Hijacked connections are not closed by Shutdown.
	for _, fc := range clients {
		_ = fc.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
