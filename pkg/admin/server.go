// Package admin serves the operational HTTP endpoints: Prometheus metrics,
// a liveness probe and a JSON snapshot of processor and server counters.
package admin

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/core/failfast"
	mstprom "github.com/fluxorio/mstflow/pkg/observability/prometheus"
	"github.com/fluxorio/mstflow/pkg/tcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

// Config configures the admin server
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       core.Logger

	// Gatherer backs /metrics. Defaults to the package registry.
	Gatherer prometheus.Gatherer

	// Metrics records admin requests. Nil disables request metrics.
	Metrics *mstprom.Metrics
}

// DefaultConfig returns the default admin configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":9036",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats is the /stats document
type Stats struct {
	Processor concurrency.ProcessorStats   `json:"processor"`
	Sessions  int                          `json:"sessions"`
	Servers   map[string]tcp.ServerMetrics `json:"servers,omitempty"`
	Uptime    string                       `json:"uptime"`
}

// Server is the admin HTTP server
type Server struct {
	config    Config
	logger    core.Logger
	processor concurrency.Processor
	started   time.Time
	metrics   fasthttp.RequestHandler

	mu       sync.RWMutex
	sessions func() int
	servers  map[string]func() tcp.ServerMetrics
	listener net.Listener

	server *fasthttp.Server
}

// NewServer creates an admin server reporting on p
func NewServer(p concurrency.Processor, config Config) *Server {
	failfast.NotNil(p, "processor")
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = core.NewDefaultLogger()
	}

	s := &Server{
		config:    config,
		logger:    config.Logger,
		processor: p,
		started:   time.Now(),
		metrics:   mstprom.FastHTTPHandler(config.Gatherer),
		servers:   make(map[string]func() tcp.ServerMetrics),
	}

	handler := s.handleRequest
	if config.Metrics != nil {
		handler = mstprom.FastHTTPMetricsMiddleware(config.Metrics)(handler)
	}
	s.server = &fasthttp.Server{
		Handler:               handler,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		NoDefaultServerHeader: true,
	}
	return s
}

// SetSessions sets the live session counter shown in /stats
func (s *Server) SetSessions(count func() int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = count
}

// AddServer adds a connection server to /stats
func (s *Server) AddServer(name string, source func() tcp.ServerMetrics) {
	failfast.NotNil(source, "metrics source")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[name] = source
}

// Handler returns the request handler, for in-memory serving
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.server.Handler
}

func (s *Server) handleRequest(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case "/metrics":
		s.metrics(ctx)
	case "/healthz":
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"status":"ok"}`)
	case "/stats":
		s.writeJSON(ctx, s.Stats())
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}

// Stats builds the /stats document
func (s *Server) Stats() Stats {
	st := Stats{
		Processor: s.processor.Stats(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessions != nil {
		st.Sessions = s.sessions()
	}
	if len(s.servers) > 0 {
		names := make([]string, 0, len(s.servers))
		for name := range s.servers {
			names = append(names, name)
		}
		sort.Strings(names)
		st.Servers = make(map[string]tcp.ServerMetrics, len(names))
		for _, name := range names {
			st.Servers[name] = s.servers[name]()
		}
	}
	return st
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	data, err := core.JSONEncode(v)
	if err != nil {
		s.logger.Errorf("admin: encode %s: %v", ctx.Path(), err)
		ctx.Error(`{"error":"encode_failed"}`, fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(data)
}

// ListeningAddr returns the bound address, or "" before Start
func (s *Server) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
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
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("admin server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve serves requests from ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Stop shuts the server down, bounded by ctx
func (s *Server) Stop(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}
