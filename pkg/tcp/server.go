package tcp

import (
	"context"
	"net"
)

// Server represents a TCP server abstraction
type Server interface {
	// Start starts the server (blocking, like HTTP servers).
	Start() error

	// Stop stops the server gracefully.
	Stop() error

	// SetHandler sets the connection handler (fail-fast on nil).
	SetHandler(handler ConnectionHandler)

	// Metrics returns current server metrics.
	Metrics() ServerMetrics
}

// ConnectionHandler handles a single TCP connection for its whole life.
// The server closes the connection after the handler returns.
type ConnectionHandler func(ctx *ConnContext) error

// Middleware wraps a ConnectionHandler
type Middleware func(ConnectionHandler) ConnectionHandler

// ConnContext provides per-connection context.
// Context is cancelled when the server stops.
type ConnContext struct {
	Context context.Context
	Conn    net.Conn

	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// ServerMetrics provides TCP server metrics.
type ServerMetrics struct {
	RejectedConnections int64   `json:"rejected_connections"` // Total rejected connections (capacity)
	NormalCCU           int     `json:"normal_ccu"`           // Normal capacity (target utilization baseline)
	CurrentCCU          int     `json:"current_ccu"`          // Current load (relative to normal capacity)
	CCUUtilization      float64 `json:"ccu_utilization"`      // Utilization percentage (relative to normal capacity)
	TotalAccepted       int64   `json:"total_accepted"`       // Total connections accepted
	HandledConnections  int64   `json:"handled_connections"`  // Total connections handled
	ErrorConnections    int64   `json:"error_connections"`    // Total connections that returned error
	ActiveConnections   int64   `json:"active_connections"`   // Connections being served now
	MaxConns            int     `json:"max_conns"`            // Hard cap, 0 means unlimited
}
