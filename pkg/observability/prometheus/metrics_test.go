package prometheus_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	mstprom "github.com/fluxorio/mstflow/pkg/observability/prometheus"
	"github.com/fluxorio/mstflow/pkg/tcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type conn struct{}

func (conn) ID() string  { return "c1" }
func (conn) Alive() bool { return true }

var errBoom = errors.New("boom")

func newPipeline(t *testing.T, m *mstprom.Metrics) *concurrency.PipelineCoordinator {
	t.Helper()
	h := func(ctx context.Context, t concurrency.Task) error {
		if t.Arg(0) < 0 {
			return errBoom
		}
		return nil
	}
	p, err := concurrency.NewPipelineCoordinator(context.Background(), concurrency.PipelineConfig{
		Name: "test",
		Stages: []concurrency.StageSpec{
			{Name: "first", Ops: []concurrency.OpCode{concurrency.OpCreateGraph}, Handler: h},
			{Name: "second", Ops: []concurrency.OpCode{concurrency.OpAddEdge}, Handler: h},
		},
		Middleware: []concurrency.Middleware{m.Middleware("test")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestMiddleware_RecordsTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	p := newPipeline(t, m)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, concurrency.NewTask(concurrency.OpCreateGraph, conn{}, 3)))
	require.NoError(t, p.Submit(ctx, concurrency.NewTask(concurrency.OpCreateGraph, conn{}, 4)))
	assert.ErrorIs(t, p.Submit(ctx, concurrency.NewTask(concurrency.OpCreateGraph, conn{}, -1)), errBoom)

	// Each commit of the first stage hands a refresh to the second.
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("test", "create_graph", "client", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("test", "create_graph", "client", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("test", "create_graph", "refresh", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TaskDuration))
}

func TestMiddleware_RecordsPanics(t *testing.T) {
	m := mstprom.NewMetrics(prometheus.NewRegistry())
	h := concurrency.Chain(func(ctx context.Context, t concurrency.Task) error {
		panic("bad handler")
	}, m.Middleware("test"))

	assert.Panics(t, func() {
		_ = h(context.Background(), concurrency.NewTask(concurrency.OpAddEdge, conn{}))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("test", "add_edge", "client", "panic")))
}

func TestObserveProcessor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	p := newPipeline(t, m)
	require.NoError(t, m.ObserveProcessor(p))

	require.NoError(t, p.Submit(context.Background(), concurrency.NewTask(concurrency.OpCreateGraph, conn{}, 3)))

	expected := `
# HELP mstflow_stage_upstream_ready 1 when the stage's upstream gate is open
# TYPE mstflow_stage_upstream_ready gauge
mstflow_stage_upstream_ready{processor="test",stage="first"} 1
mstflow_stage_upstream_ready{processor="test",stage="second"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mstflow_stage_upstream_ready"))

	// Four outcomes per stage
	n, err := testutil.GatherAndCount(reg, "mstflow_stage_tasks_total")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Error(t, m.ObserveProcessor(p), "a processor is registered once")
}

func TestObserveProcessor_LeaderClaims(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	pool := concurrency.NewLeaderFollowerPool(context.Background(), concurrency.LeaderFollowerConfig{
		Name:    "pool",
		Workers: 3,
		Handler: func(ctx context.Context, t concurrency.Task) error { return nil },
	})
	defer pool.Stop(context.Background())
	require.NoError(t, m.ObserveProcessor(pool))

	n, err := testutil.GatherAndCount(reg, "mstflow_leader_claims_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestObserveTCPServerAndSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	m.ObserveTCPServer("tcp", func() tcp.ServerMetrics {
		return tcp.ServerMetrics{TotalAccepted: 7, RejectedConnections: 2, ActiveConnections: 3, CCUUtilization: 30}
	})
	m.ObserveSessions(func() int { return 5 })

	expected := `
# HELP mstflow_server_accepted_connections_total Total accepted connections
# TYPE mstflow_server_accepted_connections_total counter
mstflow_server_accepted_connections_total{server="tcp"} 7
# HELP mstflow_server_rejected_connections_total Total connections rejected at capacity
# TYPE mstflow_server_rejected_connections_total counter
mstflow_server_rejected_connections_total{server="tcp"} 2
# HELP mstflow_sessions Live client sessions
# TYPE mstflow_sessions gauge
mstflow_sessions 5
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mstflow_server_accepted_connections_total", "mstflow_server_rejected_connections_total", "mstflow_sessions"))
}

func TestFastHTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	m.ObserveSessions(func() int { return 1 })

	mux := func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/metrics" {
			mstprom.FastHTTPHandler(reg)(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: mstprom.FastHTTPMetricsMiddleware(m)(mux)}
	go srv.Serve(ln)
	defer srv.Shutdown()

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			Dial: func(network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	resp, err := client.Get("http://test/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get("http://test/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mstflow_sessions 1")
	assert.Contains(t, string(body), `mstflow_http_requests_total{method="GET",path="unmatched",status="4xx"} 1`)
}
