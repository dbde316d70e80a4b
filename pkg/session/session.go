// Package session tracks one client connection: where replies go, whether
// the connection is still usable, and the graph the client is building.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/graph"
	"github.com/fluxorio/mstflow/pkg/graph/mst"
)

// ErrClosed is returned when a closed session is used
var ErrClosed = errors.New("session is closed")

// State is the per-client domain state. It is only reachable through
// Session.Do, which holds the session lock.
type State struct {
	Graph         *graph.Graph
	GraphCreated  bool
	EdgesModified bool
	MSTComputed   bool

	// Algorithm is the one used for the last MST, 0 before the first
	Algorithm mst.Algorithm
}

// Reset drops the graph and every flag
func (st *State) Reset() {
	*st = State{}
}

// Session is one connected client. It implements concurrency.ConnRef.
type Session struct {
	id     string
	remote string

	wmu sync.Mutex
	w   io.Writer

	mu    sync.Mutex
	state State

	alive     int32
	closer    io.Closer
	closeOnce sync.Once
	onClose   func(*Session)
}

// New creates a live session writing replies to w. closer, when not nil,
// is closed together with the session.
func New(w io.Writer, closer io.Closer) *Session {
	return &Session{
		id:     core.NewID(),
		w:      w,
		closer: closer,
		alive:  1,
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Remote returns the peer address, if the transport set one
func (s *Session) Remote() string { return s.remote }

// SetRemote records the peer address for logs
func (s *Session) SetRemote(addr string) { s.remote = addr }

// Alive reports whether the session still accepts work
func (s *Session) Alive() bool {
	return atomic.LoadInt32(&s.alive) == 1
}

// Context returns ctx carrying the session id
func (s *Session) Context(ctx context.Context) context.Context {
	return core.WithConnID(ctx, s.id)
}

// Reply writes msg to the client. Writes from different goroutines never
// interleave.
func (s *Session) Reply(msg string) error {
	if !s.Alive() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.w, msg); err != nil {
		return fmt.Errorf("session %s: write reply: %w", s.id, err)
	}
	return nil
}

// Replyf formats and writes a reply
func (s *Session) Replyf(format string, args ...interface{}) error {
	return s.Reply(fmt.Sprintf(format, args...))
}

// Do runs fn with the session state locked
func (s *Session) Do(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Alive() {
		return ErrClosed
	}
	return fn(&s.state)
}

// Close marks the session dead, drops its graph and closes the underlying
// connection. Tasks still queued for it become stale. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.alive, 0)

		s.mu.Lock()
		s.state.Reset()
		s.mu.Unlock()

		if s.closer != nil {
			err = s.closer.Close()
		}
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}
