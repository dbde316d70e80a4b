package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/failfast"
)

var _ Server = (*TCPServer)(nil)

// TCPServer implements a fail-fast TCP server for long-lived client
// conversations. Each accepted connection gets its own goroutine; admission
// is bounded by MaxConns and the backpressure baseline.
type TCPServer struct {
	addr   string
	config *TCPServerConfig
	logger core.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopping int32

	wg sync.WaitGroup

	handler      ConnectionHandler
	middlewares  []Middleware
	effective    ConnectionHandler
	backpressure *BackpressureController
	maxConns     int
	activeConns  int64 // atomic

	// Metrics (atomic for thread-safety)
	rejectedConnections int64
	totalAccepted       int64
	handledConnections  int64
	errorConnections    int64
}

// TCPServerConfig configures the TCP server.
type TCPServerConfig struct {
	Addr string

	// NormalCapacity is the backpressure baseline of concurrent connections.
	NormalCapacity int
	// MaxConns bounds concurrent connections. 0 means unlimited.
	MaxConns int

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds each write to the client.
	WriteTimeout time.Duration

	// StopTimeout bounds how long Stop waits for handlers to return.
	StopTimeout time.Duration

	Logger core.Logger
}

// DefaultTCPServerConfig returns a sensible default configuration.
func DefaultTCPServerConfig(addr string) *TCPServerConfig {
	if addr == "" {
		addr = ":9034"
	}
	return &TCPServerConfig{
		Addr:           addr,
		NormalCapacity: 1000,
		MaxConns:       0,
		TLSConfig:      nil,
		IdleTimeout:    10 * time.Minute,
		WriteTimeout:   5 * time.Second,
		StopTimeout:    5 * time.Second,
	}
}

// NewTCPServer creates a new TCP server. Handlers see a context derived
// from ctx that is cancelled on Stop.
func NewTCPServer(ctx context.Context, config *TCPServerConfig) *TCPServer {
	failfast.NotNil(ctx, "ctx")
	if config == nil {
		config = DefaultTCPServerConfig("")
	}
	if config.Addr == "" {
		config.Addr = ":9034"
	}
	if config.NormalCapacity < 1 {
		config.NormalCapacity = 1000
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = core.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &TCPServer{
		addr:         config.Addr,
		config:       config,
		logger:       config.Logger,
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
		maxConns:     config.MaxConns,
		backpressure: NewBackpressureController(config.NormalCapacity),
		handler:      defaultConnectionHandler,
	}
	s.effective = s.handler
	return s
}

func defaultConnectionHandler(ctx *ConnContext) error {
	// Default: do nothing. Connection will be closed by server.
	return nil
}

// SetHandler sets the connection handler (fail-fast on nil).
func (s *TCPServer) SetHandler(handler ConnectionHandler) {
	if handler == nil {
		panic("tcp handler cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.rebuildHandlerLocked()
}

// Use adds middleware to the TCP server. Call before Start().
// Fail-fast: panics if any middleware is nil.
func (s *TCPServer) Use(mw ...Middleware) {
	if len(mw) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mw {
		if m == nil {
			panic("tcp middleware cannot be nil")
		}
		s.middlewares = append(s.middlewares, m)
	}
	s.rebuildHandlerLocked()
}

func (s *TCPServer) rebuildHandlerLocked() {
	h := s.handler
	// First added runs outermost.
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.effective = h
}

// ListeningAddr returns the actual listening address (useful when Addr is ":0").
// Returns empty string if not currently listening.
func (s *TCPServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and runs the accept loop. It blocks until Stop.
func (s *TCPServer) Start() error {
	if atomic.LoadInt32(&s.stopping) == 1 {
		return errors.New("tcp server is stopped")
	}

	var (
		ln  net.Listener
		err error
	)
	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if atomic.LoadInt32(&s.stopping) == 1 {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("tcp server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			// If we're stopping, treat "closed listener" as clean shutdown.
			if atomic.LoadInt32(&s.stopping) == 1 {
				return nil
			}
			// Some platforms wrap the "closed" error; handle that too.
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		atomic.AddInt64(&s.totalAccepted, 1)
		if !s.tryAcquireConnSlot() {
			atomic.AddInt64(&s.rejectedConnections, 1)
			_ = conn.Close()
			continue
		}
		if !s.backpressure.TryAcquire() {
			atomic.AddInt64(&s.rejectedConnections, 1)
			s.releaseConnSlot()
			_ = conn.Close()
			continue
		}
		if !s.track(conn) {
			s.backpressure.Release()
			s.releaseConnSlot()
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// Stop closes the listener, cancels handler contexts, closes live
// connections and waits for their handlers, bounded by StopTimeout.
func (s *TCPServer) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopping, 0, 1) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	// Close listener to break Accept().
	if ln != nil {
		_ = ln.Close()
	}
	// Unblock handlers waiting on reads.
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.config.StopTimeout):
		return errors.New("tcp server: timed out waiting for connection handlers")
	}
}

// Metrics returns current server metrics.
func (s *TCPServer) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()
	return ServerMetrics{
		RejectedConnections: atomic.LoadInt64(&s.rejectedConnections),
		NormalCCU:           int(bp.NormalCapacity),
		CurrentCCU:          int(bp.CurrentLoad),
		CCUUtilization:      bp.Utilization,
		TotalAccepted:       atomic.LoadInt64(&s.totalAccepted),
		HandledConnections:  atomic.LoadInt64(&s.handledConnections),
		ErrorConnections:    atomic.LoadInt64(&s.errorConnections),
		ActiveConnections:   atomic.LoadInt64(&s.activeConns),
		MaxConns:            s.maxConns,
	}
}

func (s *TCPServer) tryAcquireConnSlot() bool {
	// Unlimited: track active for metrics only.
	if s.maxConns <= 0 {
		atomic.AddInt64(&s.activeConns, 1)
		return true
	}
	for {
		cur := atomic.LoadInt64(&s.activeConns)
		if int(cur) >= s.maxConns {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.activeConns, cur, cur+1) {
			return true
		}
	}
}

func (s *TCPServer) releaseConnSlot() {
	atomic.AddInt64(&s.activeConns, -1)
}

// track registers conn unless the server is stopping
func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.stopping) == 1 {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *TCPServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
		s.backpressure.Release()
		s.releaseConnSlot()
	}()

	s.mu.RLock()
	h := s.effective
	s.mu.RUnlock()

	cctx := &ConnContext{
		Context:    s.ctx,
		Conn:       &deadlineConn{Conn: conn, idle: s.config.IdleTimeout, write: s.config.WriteTimeout},
		LocalAddr:  conn.LocalAddr(),
		RemoteAddr: conn.RemoteAddr(),
	}

	// Panic isolation is per connection: one bad conversation must not
	// take the server down.
	atomic.AddInt64(&s.handledConnections, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.errorConnections, 1)
			s.logger.Errorf("panic in tcp handler (isolated): %v", r)
		}
	}()
	if err := h(cctx); err != nil {
		atomic.AddInt64(&s.errorConnections, 1)
		s.logger.Errorf("tcp handler error: %v", err)
	}
}

// deadlineConn refreshes the read deadline before every read, so a client
// is only dropped after IdleTimeout of silence, and bounds every write.
type deadlineConn struct {
	net.Conn
	idle  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	return c.Conn.Write(p)
}
