package events

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

type conn struct{ id string }

func (c conn) ID() string  { return c.id }
func (c conn) Alive() bool { return true }

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestMiddleware_PublishesClientTasksOnly(t *testing.T) {
	rec := &recorder{}
	failure := errors.New("graph is not created")
	h := concurrency.Chain(func(ctx context.Context, t concurrency.Task) error {
		if t.Op == concurrency.OpComputeMST {
			return failure
		}
		return nil
	}, Middleware(rec, core.NewJSONLoggerTo(&bytes.Buffer{})))

	ctx := concurrency.WithWorker(context.Background(), "pool-1")
	create := concurrency.NewTask(concurrency.OpCreateGraph, conn{"c1"}, 3)
	require.NoError(t, h(ctx, create))
	require.NoError(t, h(ctx, create.Forward()))
	require.ErrorIs(t, h(ctx, concurrency.NewTask(concurrency.OpComputeMST, conn{"c1"}, 1)), failure)

	require.Len(t, rec.events, 2)
	assert.Equal(t, create.ID, rec.events[0].ID)
	assert.Equal(t, "create_graph", rec.events[0].Op)
	assert.Equal(t, "c1", rec.events[0].Conn)
	assert.Equal(t, "pool-1", rec.events[0].Worker)
	assert.True(t, rec.events[0].OK)
	assert.Empty(t, rec.events[0].Error)

	assert.Equal(t, "compute_mst", rec.events[1].Op)
	assert.False(t, rec.events[1].OK)
	assert.Equal(t, failure.Error(), rec.events[1].Error)
}

func TestMiddleware_PublishFailureDoesNotFailTask(t *testing.T) {
	rec := &recorder{err: errors.New("nats down")}
	var logs bytes.Buffer
	h := concurrency.Chain(func(ctx context.Context, t concurrency.Task) error { return nil },
		Middleware(rec, core.NewJSONLoggerTo(&logs)))

	require.NoError(t, h(context.Background(), concurrency.NewTask(concurrency.OpAddEdge, conn{"c2"}, 0, 1, 2)))
	assert.Contains(t, logs.String(), "publish add_edge event: nats down")
	assert.Contains(t, logs.String(), "c2")
}

func TestNATSPublisher(t *testing.T) {
	s := runTestNATSServer(t)

	sub, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs, err := sub.SubscribeSync("mstflow.tasks.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(NATSConfig{URL: s.ClientURL(), Name: "mstflow-test"})
	require.NoError(t, err)
	assert.Equal(t, "mstflow.tasks.total_weight", p.Subject("total_weight"))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{ID: "t1", Conn: "c1", Op: "total_weight", OK: true, At: at}))
	require.NoError(t, p.Close())

	msg, err := msgs.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mstflow.tasks.total_weight", msg.Subject)
	assert.Equal(t, "c1", msg.Header.Get("X-Conn-ID"))

	var ev Event
	require.NoError(t, core.JSONDecode(msg.Data, &ev))
	assert.Equal(t, "t1", ev.ID)
	assert.True(t, ev.OK)
	assert.True(t, at.Equal(ev.At))
	assert.JSONEq(t, `{"id":"t1","conn":"c1","op":"total_weight","ok":true,"at":"2026-01-02T03:04:05Z"}`, string(msg.Data))
}

func TestNATSPublisher_ContextEnded(t *testing.T) {
	s := runTestNATSServer(t)
	p, err := NewNATSPublisher(NATSConfig{URL: s.ClientURL(), SubjectPrefix: "custom."})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "custom.print_mst", p.Subject("print_mst"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Op: "print_mst"}), context.Canceled)
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
}
