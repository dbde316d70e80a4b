// Package events publishes a record of every finished client task, for
// consumers that follow what clients do without joining the conversation.
package events

import (
	"context"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
)

// Event describes one finished client task
type Event struct {
	ID     string    `json:"id"`
	Conn   string    `json:"conn"`
	Op     string    `json:"op"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Worker string    `json:"worker,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NewEvent builds the event for a task that ran with outcome err
func NewEvent(ctx context.Context, t concurrency.Task, err error) Event {
	ev := Event{
		ID:     t.ID,
		Conn:   t.ConnID(),
		Op:     t.Op.String(),
		OK:     err == nil,
		Worker: concurrency.WorkerFrom(ctx),
		At:     time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Middleware publishes an event after each client task. Refreshes are
// not published. A failed publish is logged and never fails the task.
func Middleware(p Publisher, logger core.Logger) concurrency.Middleware {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return func(next concurrency.Handler) concurrency.Handler {
		return func(ctx context.Context, t concurrency.Task) error {
			err := next(ctx, t)
			if t.Forwarded {
				return err
			}
			if perr := p.Publish(ctx, NewEvent(ctx, t, err)); perr != nil {
				logger.WithContext(core.WithConnID(ctx, t.ConnID())).
					Warnf("publish %s event: %v", t.Op, perr)
			}
			return err
		}
	}
}
