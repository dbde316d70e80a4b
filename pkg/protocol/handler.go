// Package protocol speaks the line-based menu protocol with one client:
// it prompts for a choice and its arguments, turns them into a task and
// submits it to the processor. Replies are written by the operations
// themselves through the client's session.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/core/failfast"
	"github.com/fluxorio/mstflow/pkg/service"
	"github.com/fluxorio/mstflow/pkg/session"
)

// MaxLineBytes bounds one client line
const MaxLineBytes = 64 * 1024

// Handler serves client connections against a processor
type Handler struct {
	processor concurrency.Processor
	service   *service.Service
	sessions  *session.Registry
	logger    core.Logger
}

// NewHandler creates a handler. sessions may be nil for a private registry.
func NewHandler(p concurrency.Processor, svc *service.Service, sessions *session.Registry, logger core.Logger) *Handler {
	failfast.NotNil(p, "processor")
	failfast.NotNil(svc, "service")
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	if logger == nil {
		logger = svc.Logger()
	}
	return &Handler{processor: p, service: svc, sessions: sessions, logger: logger}
}

// Sessions returns the registry of live client sessions
func (h *Handler) Sessions() *session.Registry { return h.sessions }

// ServeConn opens a session on conn and serves it until the client leaves
func (h *Handler) ServeConn(ctx context.Context, conn io.ReadWriteCloser, remote string) error {
	sess := h.sessions.Open(conn, conn)
	sess.SetRemote(remote)
	return h.Serve(ctx, sess, conn)
}

// Serve runs the menu loop for sess, reading client lines from r. It
// returns after Disconnect, at end of input or when ctx ends, and the
// session is closed in every case.
func (h *Handler) Serve(ctx context.Context, sess *session.Session, r io.Reader) error {
	defer sess.Close()

	ctx = sess.Context(ctx)
	log := h.logger.WithContext(ctx)
	log.Info("client connected", "remote", sess.Remote())

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), MaxLineBytes)
	c := &conversation{sess: sess, sc: sc}

	for ctx.Err() == nil && sess.Alive() {
		c.say(service.MsgMenu)
		line, ok := c.read()
		if !ok {
			break
		}

		choice, err := strconv.Atoi(strings.TrimSpace(line))
		op := concurrency.OpCode(choice)
		if err != nil || !op.Valid() {
			c.say(service.MsgInvalidChoice)
			continue
		}

		t, ok, valid := c.collect(op)
		if !ok {
			break
		}
		if !valid {
			continue
		}

		err = h.processor.Submit(ctx, t)
		if err != nil && service.IsRejection(err) {
			h.service.ReplyRejected(sess, op, err)
		}
		if op == concurrency.OpDisconnect {
			// A refused disconnect still ends the conversation.
			return nil
		}
	}

	if err := sc.Err(); err != nil && !isClosedConn(err) {
		log.Warnf("read from client: %v", err)
		return err
	}
	log.Info("client went away", "remote", sess.Remote())
	return nil
}

func isClosedConn(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// conversation reads one client's lines and writes its prompts
type conversation struct {
	sess *session.Session
	sc   *bufio.Scanner
}

func (c *conversation) say(msg string) {
	_ = c.sess.Reply(msg)
}

func (c *conversation) read() (string, bool) {
	if !c.sc.Scan() {
		return "", false
	}
	return c.sc.Text(), true
}

// ints reads one line holding exactly n integers
func (c *conversation) ints(n int) ([]int, bool, bool) {
	line, ok := c.read()
	if !ok {
		return nil, false, false
	}
	fields := strings.Fields(line)
	if len(fields) != n {
		return nil, true, false
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, true, false
		}
		out[i] = v
	}
	return out, true, true
}

// collect prompts for the arguments of op. ok is false at end of input,
// valid is false when the client typed something unparsable, in which
// case the reason has already been sent.
func (c *conversation) collect(op concurrency.OpCode) (t concurrency.Task, ok, valid bool) {
	t = concurrency.NewTask(op, c.sess)

	var (
		prompt, invalid string
		argc            int
	)
	switch op {
	case concurrency.OpCreateGraph:
		prompt, invalid, argc = service.MsgAskVertices, service.MsgInvalidVertices, 1
	case concurrency.OpAddEdge:
		prompt, invalid, argc = service.MsgAskAddEdge, service.MsgInvalidAddEdge, 3
	case concurrency.OpRemoveEdge:
		prompt, invalid, argc = service.MsgAskRemoveEdge, service.MsgInvalidRemoveEdge, 2
	case concurrency.OpComputeMST:
		prompt, invalid, argc = service.MsgAskAlgorithm, service.MsgInvalidChoice, 1
	default:
		return t, true, true
	}

	c.say(prompt)
	args, ok, valid := c.ints(argc)
	if !ok {
		return t, false, false
	}
	if !valid {
		c.say(invalid)
		return t, true, false
	}
	if op == concurrency.OpComputeMST {
		t.Choice = args[0]
	} else {
		t.Args = args
	}
	return t, true, true
}
