package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/mstflow/pkg/config"
	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/events"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mode string) config.App {
	cfg := config.Default()
	cfg.Processor.Mode = mode
	cfg.Processor.Workers = 2
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Addr = "127.0.0.1:0"
	cfg.Admin.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = config.Duration(5 * time.Second)
	return cfg
}

func runApp(t *testing.T, cfg config.App) (*app, context.CancelFunc, <-chan error) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, core.NewJSONLoggerTo(io.Discard), reg, reg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, func() bool {
		return a.tcp.ListeningAddr() != "" && a.ws.ListeningAddr() != "" && a.admin.ListeningAddr() != ""
	}, 5*time.Second, 10*time.Millisecond)
	return a, cancel, done
}

func converse(t *testing.T, addr string, lines ...string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	_, err = io.WriteString(conn, strings.Join(lines, "\n")+"\n")
	require.NoError(t, err)
	out, err := io.ReadAll(bufio.NewReader(conn))
	require.NoError(t, err)
	return string(out)
}

func TestApp_EndToEnd(t *testing.T) {
	for _, mode := range []string{"pipeline", "leader-follower"} {
		t.Run(mode, func(t *testing.T) {
			a, cancel, done := runApp(t, testConfig(mode))

			out := converse(t, a.tcp.ListeningAddr(),
				"1", "3",
				"2", "0 1 7",
				"2", "1 2 3",
				"4", "1",
				"8",
				"10",
			)
			assert.Contains(t, out, "Graph created with 3 vertices.\n")
			assert.Contains(t, out, "MST computed using Prim's Algorithm.\n")
			assert.Contains(t, out, "Total weight of the MST: 10\n")

			resp, err := http.Get("http://" + a.admin.ListeningAddr() + "/stats")
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Contains(t, string(body), `"name":"`+mode+`"`)

			resp, err = http.Get("http://" + a.admin.ListeningAddr() + "/metrics")
			require.NoError(t, err)
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Contains(t, string(body), `mstflow_tasks_total{kind="client",op="create_graph",processor="`+mode+`",result="ok"} 1`)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
			assert.Equal(t, 0, a.sessions.Len())
		})
	}
}

func TestApp_PublishesEvents(t *testing.T) {
	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second))
	defer s.Shutdown()

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("mstflow.tasks.create_graph")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	cfg := testConfig("leader-follower")
	cfg.NATS.Enabled = true
	cfg.NATS.URL = s.ClientURL()
	a, cancel, done := runApp(t, cfg)

	converse(t, a.tcp.ListeningAddr(), "1", "5", "10")

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, core.JSONDecode(msg.Data, &ev))
	assert.Equal(t, "create_graph", ev.Op)
	assert.True(t, ev.OK)

	cancel()
	require.NoError(t, <-done)
}

func TestApp_InvalidStages(t *testing.T) {
	cfg := testConfig("pipeline")
	cfg.Processor.Stages = []string{"compute-mst", "sort-edges"}
	reg := prometheus.NewRegistry()
	_, err := newApp(context.Background(), cfg, core.NewJSONLoggerTo(io.Discard), reg, reg)
	assert.ErrorContains(t, err, "sort-edges")
}

func TestLoadConfig_ModeFlag(t *testing.T) {
	cfg, err := loadConfig("", "leader-follower")
	require.NoError(t, err)
	assert.Equal(t, "leader-follower", cfg.Processor.Mode)

	_, err = loadConfig("", "round-robin")
	assert.Error(t, err)
}
