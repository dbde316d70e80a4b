package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpCode identifies the operation a client asked for.
// Values match the numbers of the client menu.
type OpCode int

const (
	OpCreateGraph OpCode = iota + 1
	OpAddEdge
	OpRemoveEdge
	OpComputeMST
	OpLongestPath
	OpShortestPath
	OpAverageEdgeWeight
	OpTotalWeight
	OpPrintMST
	OpDisconnect
)

var opNames = map[OpCode]string{
	OpCreateGraph:       "create_graph",
	OpAddEdge:           "add_edge",
	OpRemoveEdge:        "remove_edge",
	OpComputeMST:        "compute_mst",
	OpLongestPath:       "longest_path",
	OpShortestPath:      "shortest_path",
	OpAverageEdgeWeight: "average_edge_weight",
	OpTotalWeight:       "total_weight",
	OpPrintMST:          "print_mst",
	OpDisconnect:        "disconnect",
}

// String returns the snake_case name used in logs, metrics and event subjects
func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op_%d", int(o))
}

// Valid reports whether o is one of the known operations
func (o OpCode) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// IsQuery reports whether o reads MST statistics
func (o OpCode) IsQuery() bool {
	return o >= OpLongestPath && o <= OpPrintMST
}

// ConnRef is an opaque handle to the connection a task came from.
// The queue only needs to know whether it is still usable.
type ConnRef interface {
	ID() string
	Alive() bool
}

// Task is a unit of work. It is a value: ownership moves into a queue on
// enqueue and out of it on dequeue.
type Task struct {
	ID     string
	Op     OpCode
	Conn   ConnRef
	Choice int
	Args   []int

	// Forwarded is set on tasks a stage hands to the next stage after it
	// committed, as opposed to tasks that came from a client.
	Forwarded bool

	// Done, when set, is called exactly once for every accepted task:
	// after it ran, was dropped as stale, or was discarded on shutdown.
	Done func(Execution)
}

// NewTask creates a client task with a fresh id
func NewTask(op OpCode, conn ConnRef, args ...int) Task {
	return Task{
		ID:   uuid.New().String(),
		Op:   op,
		Conn: conn,
		Args: args,
	}
}

// Stale reports whether the task's connection has gone away
func (t Task) Stale() bool {
	return t.Conn == nil || !t.Conn.Alive()
}

// ConnID returns the connection id, or "" for a task without connection
func (t Task) ConnID() string {
	if t.Conn == nil {
		return ""
	}
	return t.Conn.ID()
}

// Forward derives the task a committed stage hands downstream.
// It keeps the connection and operation but none of the client's callbacks.
func (t Task) Forward() Task {
	return Task{
		ID:        uuid.New().String(),
		Op:        t.Op,
		Conn:      t.Conn,
		Choice:    t.Choice,
		Forwarded: true,
	}
}

// Arg returns the i-th argument or 0 when missing
func (t Task) Arg(i int) int {
	if i < 0 || i >= len(t.Args) {
		return 0
	}
	return t.Args[i]
}

func (t Task) String() string {
	if t.Forwarded {
		return fmt.Sprintf("%s(fwd %s)", t.Op, shortID(t.ID))
	}
	return fmt.Sprintf("%s(%s)", t.Op, shortID(t.ID))
}

func (t Task) finish(e Execution) {
	if t.Done != nil {
		t.Done(e)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Handler runs a task. A nil error means the task committed.
type Handler func(ctx context.Context, t Task) error

// Middleware wraps a Handler. The last middleware given to Chain runs innermost.
type Middleware func(Handler) Handler

// Chain wraps h with mws so that mws[0] runs outermost
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Execution is the outcome of taking one task off a queue
type Execution struct {
	Task Task
	Err  error

	// Dropped is set when the task was stale and its handler never ran
	Dropped bool

	// Discarded is set when the task was cleared from a queue during shutdown
	Discarded bool

	Duration time.Duration
}

// OK reports whether the handler ran and committed
func (e Execution) OK() bool {
	return e.Err == nil && !e.Dropped && !e.Discarded
}
