package prometheus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/tcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "mstflow"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registerer prometheus.Registerer

	// Task metrics, recorded by Middleware
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,

		TasksTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mstflow_tasks_total",
				Help: "Total number of tasks run by a processor",
			},
			[]string{"processor", "op", "kind", "result"}, // kind: client, refresh
		),
		TaskDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mstflow_task_duration_seconds",
				Help:    "Task handler duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"processor", "op"},
		),

		HTTPRequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mstflow_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mstflow_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordTask records one handler run
func (m *Metrics) RecordTask(processor string, t concurrency.Task, err error, duration time.Duration) {
	m.TasksTotal.WithLabelValues(processor, t.Op.String(), taskKind(t), taskResult(err)).Inc()
	m.TaskDuration.WithLabelValues(processor, t.Op.String()).Observe(duration.Seconds())
}

// RecordHTTPRequest records an admin HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// Middleware records every handler run of the named processor
func (m *Metrics) Middleware(processor string) concurrency.Middleware {
	return func(next concurrency.Handler) concurrency.Handler {
		return func(ctx context.Context, t concurrency.Task) error {
			start := time.Now()
			defer func() {
				// The queue recovers the panic; record it on the way out.
				if r := recover(); r != nil {
					m.RecordTask(processor, t, concurrency.ErrHandlerPanic, time.Since(start))
					panic(r)
				}
			}()
			err := next(ctx, t)
			m.RecordTask(processor, t, err, time.Since(start))
			return err
		}
	}
}

// ObserveProcessor exports the processor's counters, read at scrape time
func (m *Metrics) ObserveProcessor(p concurrency.Processor) error {
	return m.registerer.Register(newProcessorCollector(p))
}

// ObserveTCPServer exports the server's connection metrics, read at scrape time
func (m *Metrics) ObserveTCPServer(name string, source func() tcp.ServerMetrics) {
	labels := prometheus.Labels{"server": name}
	f := promauto.With(m.registerer)

	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "mstflow_server_accepted_connections_total", Help: "Total accepted connections", ConstLabels: labels,
	}, func() float64 { return float64(source().TotalAccepted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "mstflow_server_rejected_connections_total", Help: "Total connections rejected at capacity", ConstLabels: labels,
	}, func() float64 { return float64(source().RejectedConnections) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "mstflow_server_error_connections_total", Help: "Total connections whose handler failed", ConstLabels: labels,
	}, func() float64 { return float64(source().ErrorConnections) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mstflow_server_active_connections", Help: "Connections currently served", ConstLabels: labels,
	}, func() float64 { return float64(source().ActiveConnections) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mstflow_server_ccu_utilization", Help: "CCU utilization percentage (0-100)", ConstLabels: labels,
	}, func() float64 { return source().CCUUtilization })
}

// ObserveSessions exports the number of live client sessions
func (m *Metrics) ObserveSessions(count func() int) {
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mstflow_sessions",
		Help: "Live client sessions",
	}, func() float64 { return float64(count()) })
}

func taskKind(t concurrency.Task) string {
	if t.Forwarded {
		return "refresh"
	}
	return "client"
}

// taskResult converts a handler error to a bounded label value
func taskResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, concurrency.ErrHandlerPanic):
		return "panic"
	default:
		return "error"
	}
}

var (
	processorTasksDesc = prometheus.NewDesc("mstflow_processor_tasks_total",
		"Tasks finished by a processor, by outcome", []string{"processor", "outcome"}, nil)
	processorQueuedDesc = prometheus.NewDesc("mstflow_processor_queued",
		"Tasks waiting in a processor", []string{"processor"}, nil)
	stageTasksDesc = prometheus.NewDesc("mstflow_stage_tasks_total",
		"Tasks finished by a pipeline stage, by outcome", []string{"processor", "stage", "outcome"}, nil)
	stageQueuedDesc = prometheus.NewDesc("mstflow_stage_queued",
		"Tasks waiting in a pipeline stage", []string{"processor", "stage"}, nil)
	stageReadyDesc = prometheus.NewDesc("mstflow_stage_upstream_ready",
		"1 when the stage's upstream gate is open", []string{"processor", "stage"}, nil)
	leaderClaimsDesc = prometheus.NewDesc("mstflow_leader_claims_total",
		"Times a pool worker became leader", []string{"processor", "worker"}, nil)
)

type processorCollector struct {
	p concurrency.Processor
}

func newProcessorCollector(p concurrency.Processor) *processorCollector {
	return &processorCollector{p: p}
}

func (c *processorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- processorTasksDesc
	ch <- processorQueuedDesc
	ch <- stageTasksDesc
	ch <- stageQueuedDesc
	ch <- stageReadyDesc
	ch <- leaderClaimsDesc
}

func (c *processorCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.p.Stats()
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	counter(processorTasksDesc, st.Executed, st.Name, "executed")
	counter(processorTasksDesc, st.Failed, st.Name, "failed")
	counter(processorTasksDesc, st.Dropped, st.Name, "dropped")
	counter(processorTasksDesc, st.Discarded, st.Name, "discarded")
	gauge(processorQueuedDesc, float64(st.Queued), st.Name)

	for _, s := range st.Stages {
		counter(stageTasksDesc, s.Executed, st.Name, s.Name, "executed")
		counter(stageTasksDesc, s.Failed, st.Name, s.Name, "failed")
		counter(stageTasksDesc, s.Dropped, st.Name, s.Name, "dropped")
		counter(stageTasksDesc, s.Discarded, st.Name, s.Name, "discarded")
		gauge(stageQueuedDesc, float64(s.Queued), st.Name, s.Name)
		ready := 0.0
		if s.UpstreamReady {
			ready = 1
		}
		gauge(stageReadyDesc, ready, st.Name, s.Name)
	}
	for i, claims := range st.LeaderClaims {
		counter(leaderClaimsDesc, claims, st.Name, strconv.Itoa(i))
	}
}
