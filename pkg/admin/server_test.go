package admin

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	mstprom "github.com/fluxorio/mstflow/pkg/observability/prometheus"
	"github.com/fluxorio/mstflow/pkg/service"
	"github.com/fluxorio/mstflow/pkg/tcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
)

func startAdmin(t *testing.T) (*Server, *http.Client) {
	t.Helper()
	logger := core.NewJSONLoggerTo(io.Discard)
	svc := service.New(logger)
	p, err := svc.NewProcessor(context.Background(), service.ModePipeline, service.ProcessorOptions{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := mstprom.NewMetrics(reg)
	require.NoError(t, m.ObserveProcessor(p))

	s := NewServer(p, Config{Logger: logger, Gatherer: reg, Metrics: m})
	s.SetSessions(func() int { return 2 })
	s.AddServer("tcp", func() tcp.ServerMetrics {
		return tcp.ServerMetrics{TotalAccepted: 5, ActiveConnections: 2}
	})

	ln := fasthttputil.NewInmemoryListener()
	go s.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		_ = p.Stop(ctx)
	})

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			Dial: func(network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	return s, client
}

func get(t *testing.T, c *http.Client, path string) (int, string) {
	t.Helper()
	resp, err := c.Get("http://admin" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAdmin_Healthz(t *testing.T) {
	_, c := startAdmin(t)
	code, body := get(t, c, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestAdmin_Stats(t *testing.T) {
	_, c := startAdmin(t)
	code, body := get(t, c, "/stats")
	require.Equal(t, http.StatusOK, code)

	var st Stats
	require.NoError(t, core.JSONDecode([]byte(body), &st))
	assert.Equal(t, "pipeline", st.Processor.Name)
	assert.Len(t, st.Processor.Stages, 5)
	assert.True(t, st.Processor.Stages[0].UpstreamReady)
	assert.False(t, st.Processor.Stages[1].UpstreamReady)
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, int64(5), st.Servers["tcp"].TotalAccepted)
}

func TestAdmin_Metrics(t *testing.T) {
	_, c := startAdmin(t)
	get(t, c, "/healthz")

	code, body := get(t, c, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `mstflow_stage_upstream_ready{processor="pipeline",stage="create-graph"} 1`)
	assert.Contains(t, body, `mstflow_http_requests_total{method="GET",path="/healthz",status="2xx"} 1`)
}

func TestAdmin_NotFoundAndMethod(t *testing.T) {
	_, c := startAdmin(t)
	code, _ := get(t, c, "/nope")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := c.Post("http://admin/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAdmin_StartStop(t *testing.T) {
	logger := core.NewJSONLoggerTo(io.Discard)
	svc := service.New(logger)
	p, err := svc.NewProcessor(context.Background(), service.ModeLeaderFollower, service.ProcessorOptions{Workers: 2})
	require.NoError(t, err)
	defer p.Stop(context.Background())

	s := NewServer(p, Config{Addr: "127.0.0.1:0", Logger: logger, Gatherer: prometheus.NewRegistry()})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	require.Eventually(t, func() bool { return s.ListeningAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.ListeningAddr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
