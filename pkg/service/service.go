// Package service binds the graph operations clients can ask for to
// concurrency tasks, and builds the processors that run them.
//
// Every operation reads and writes the client's state under the session
// lock, writes its own reply, and reports its outcome as an error so the
// processor can gate downstream work on it.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/graph"
	"github.com/fluxorio/mstflow/pkg/graph/mst"
	"github.com/fluxorio/mstflow/pkg/session"
)

// Service runs graph operations on behalf of sessions
type Service struct {
	logger core.Logger
}

// New creates a service. A nil logger means core.NewDefaultLogger().
func New(logger core.Logger) *Service {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Service{logger: logger}
}

// Logger returns the service logger
func (s *Service) Logger() core.Logger { return s.logger }

func sessionOf(t concurrency.Task) (*session.Session, error) {
	sess, ok := t.Conn.(*session.Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, t)
	}
	return sess, nil
}

// Execute runs a client task. It is the leader-follower handler and the
// stage handler for tasks that came from a client.
func (s *Service) Execute(ctx context.Context, t concurrency.Task) error {
	sess, err := sessionOf(t)
	if err != nil {
		return err
	}

	switch t.Op {
	case concurrency.OpCreateGraph:
		err = s.createGraph(sess, t)
	case concurrency.OpAddEdge:
		err = s.addEdge(sess, t)
	case concurrency.OpRemoveEdge:
		err = s.removeEdge(sess, t)
	case concurrency.OpComputeMST:
		err = s.computeMST(sess, t)
	case concurrency.OpLongestPath, concurrency.OpShortestPath,
		concurrency.OpAverageEdgeWeight, concurrency.OpTotalWeight, concurrency.OpPrintMST:
		err = s.query(sess, t)
	case concurrency.OpDisconnect:
		return s.disconnect(ctx, sess)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownOp, int(t.Op))
	}

	if err != nil {
		s.reply(sess, failureMessage(t.Op, err))
	}
	return err
}

func (s *Service) reply(sess *session.Session, msg string) {
	if msg == "" {
		return
	}
	if err := sess.Reply(msg); err != nil && !errors.Is(err, session.ErrClosed) {
		s.logger.Warnf("reply to %s: %v", sess.ID(), err)
	}
}

// failureMessage maps an operation error to the reply the client sees
func failureMessage(op concurrency.OpCode, err error) string {
	switch {
	case errors.Is(err, ErrGraphNotCreated):
		return MsgGraphNotCreated
	case errors.Is(err, ErrMSTNotComputed):
		return MsgMSTNotComputed
	case errors.Is(err, graph.ErrNoSuchEdge):
		return "There is no such edge.\n"
	case errors.Is(err, ErrInvalidArgument):
		switch op {
		case concurrency.OpCreateGraph:
			return MsgInvalidVertices
		case concurrency.OpAddEdge:
			return MsgInvalidAddEdge
		case concurrency.OpRemoveEdge:
			return MsgInvalidRemoveEdge
		}
		return MsgInvalidChoice
	case errors.Is(err, ErrUnknownOp):
		return MsgInvalidChoice
	case errors.Is(err, session.ErrClosed):
		return ""
	}
	return MsgInternalError
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

func (s *Service) createGraph(sess *session.Session, t concurrency.Task) error {
	n := t.Arg(0)
	g, err := graph.New(n)
	if err != nil {
		return invalid(err)
	}
	err = sess.Do(func(st *session.State) error {
		st.Reset()
		st.Graph = g
		st.GraphCreated = true
		return nil
	})
	if err != nil {
		return err
	}
	s.reply(sess, fmt.Sprintf("Graph created with %d vertices.\n", n))
	return nil
}

func (s *Service) addEdge(sess *session.Session, t concurrency.Task) error {
	if len(t.Args) != 3 {
		return invalid(fmt.Errorf("want 3 arguments, got %d", len(t.Args)))
	}
	u, v, w := t.Args[0], t.Args[1], t.Args[2]
	err := sess.Do(func(st *session.State) error {
		if !st.GraphCreated || st.Graph == nil {
			return ErrGraphNotCreated
		}
		if err := st.Graph.AddEdge(u, v, w); err != nil {
			return invalid(err)
		}
		st.EdgesModified = true
		st.MSTComputed = false
		return nil
	})
	if err != nil {
		return err
	}
	s.reply(sess, fmt.Sprintf("Edge added between %d and %d with weight %d.\n", u, v, w))
	return nil
}

func (s *Service) removeEdge(sess *session.Session, t concurrency.Task) error {
	if len(t.Args) != 2 {
		return invalid(fmt.Errorf("want 2 arguments, got %d", len(t.Args)))
	}
	u, v := t.Args[0], t.Args[1]
	err := sess.Do(func(st *session.State) error {
		if !st.GraphCreated || st.Graph == nil {
			return ErrGraphNotCreated
		}
		if err := st.Graph.RemoveEdge(u, v); err != nil {
			if errors.Is(err, graph.ErrNoSuchEdge) {
				return err
			}
			return invalid(err)
		}
		st.EdgesModified = true
		st.MSTComputed = false
		return nil
	})
	if err != nil {
		return err
	}
	s.reply(sess, fmt.Sprintf("Edge removed between %d and %d.\n", u, v))
	return nil
}

func (s *Service) computeMST(sess *session.Session, t concurrency.Task) error {
	alg, err := mst.ParseAlgorithm(t.Choice)
	if err != nil {
		return invalid(err)
	}
	err = sess.Do(func(st *session.State) error {
		if !st.GraphCreated || st.Graph == nil {
			return ErrGraphNotCreated
		}
		return computeLocked(st, alg)
	})
	if err != nil {
		return err
	}
	s.reply(sess, fmt.Sprintf("MST computed using %s Algorithm.\n", alg))
	return nil
}

// computeLocked builds the MST of st.Graph. The caller holds the session lock.
func computeLocked(st *session.State, alg mst.Algorithm) error {
	strategy, err := mst.New(alg)
	if err != nil {
		return invalid(err)
	}
	st.Graph.BeginMST()
	tree, err := strategy.Compute(st.Graph.Matrix())
	if err != nil {
		return fmt.Errorf("compute %s MST: %w", alg.Name(), err)
	}
	if err := st.Graph.SetMST(tree, alg.Name()); err != nil {
		return err
	}
	st.MSTComputed = true
	st.Algorithm = alg
	return nil
}

func (s *Service) query(sess *session.Session, t concurrency.Task) error {
	var msg string
	err := sess.Do(func(st *session.State) error {
		if !st.GraphCreated || st.Graph == nil {
			return ErrGraphNotCreated
		}
		if !st.MSTComputed || !st.Graph.HasMST() {
			return ErrMSTNotComputed
		}
		var err error
		msg, err = formatQuery(st.Graph, t.Op)
		return err
	})
	if err != nil {
		return err
	}
	s.reply(sess, msg)
	return nil
}

func formatQuery(g *graph.Graph, op concurrency.OpCode) (string, error) {
	if op == concurrency.OpPrintMST {
		out, err := g.FormatMST()
		if err != nil {
			return "", err
		}
		return "MST:\n" + out + "\n", nil
	}

	st, err := g.Stats()
	if err != nil {
		return "", err
	}
	switch op {
	case concurrency.OpLongestPath:
		return fmt.Sprintf("Weight of the longest path in MST: %d\n", st.LongestPath), nil
	case concurrency.OpShortestPath:
		return fmt.Sprintf("Weight of the shortest path in MST: %d\n", st.ShortestPath), nil
	case concurrency.OpAverageEdgeWeight:
		return fmt.Sprintf("Average weight of the edges in MST: %.6f\n", st.AverageEdgeWeight), nil
	case concurrency.OpTotalWeight:
		return fmt.Sprintf("Total weight of the MST: %d\n", st.TotalWeight), nil
	}
	return "", fmt.Errorf("%w: %s is not a query", ErrUnknownOp, op)
}

func (s *Service) disconnect(ctx context.Context, sess *session.Session) error {
	log := s.logger.WithContext(sess.Context(ctx))
	if err := sess.Close(); err != nil {
		log.Warnf("close connection: %v", err)
	}
	log.Info("client connection closed", "remote", sess.Remote())
	return nil
}

// IsRejection reports whether err means the task never reached a handler,
// so no reply was written for it.
func IsRejection(err error) bool {
	return errors.Is(err, concurrency.ErrUpstreamNotReady) ||
		errors.Is(err, concurrency.ErrNoRoute) ||
		errors.Is(err, concurrency.ErrStopped) ||
		errors.Is(err, concurrency.ErrDiscarded) ||
		errors.Is(err, concurrency.ErrStaleTask) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ReplyRejected tells the client why a task was not run. A closed gate is
// explained from the client's own state: the step it skipped, if any.
func (s *Service) ReplyRejected(sess *session.Session, op concurrency.OpCode, err error) {
	switch {
	case errors.Is(err, concurrency.ErrUpstreamNotReady):
		s.reply(sess, s.explainGate(sess, op))
	case errors.Is(err, concurrency.ErrNoRoute):
		s.reply(sess, MsgInvalidChoice)
	case errors.Is(err, concurrency.ErrStopped), errors.Is(err, concurrency.ErrDiscarded),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.reply(sess, MsgShuttingDown)
	}
}

func (s *Service) explainGate(sess *session.Session, op concurrency.OpCode) string {
	msg := MsgNotReady
	_ = sess.Do(func(st *session.State) error {
		switch {
		case op == concurrency.OpCreateGraph || op == concurrency.OpDisconnect:
		case !st.GraphCreated:
			msg = MsgGraphNotCreated
		case op.IsQuery() && !st.MSTComputed:
			msg = MsgMSTNotComputed
		}
		return nil
	})
	return msg
}
