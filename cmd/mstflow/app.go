package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fluxorio/mstflow/pkg/admin"
	"github.com/fluxorio/mstflow/pkg/config"
	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/events"
	mstprom "github.com/fluxorio/mstflow/pkg/observability/prometheus"
	"github.com/fluxorio/mstflow/pkg/observability/tracing"
	"github.com/fluxorio/mstflow/pkg/protocol"
	"github.com/fluxorio/mstflow/pkg/service"
	"github.com/fluxorio/mstflow/pkg/session"
	"github.com/fluxorio/mstflow/pkg/tcp"
	"github.com/fluxorio/mstflow/pkg/ws"
	"github.com/prometheus/client_golang/prometheus"
)

// app owns every component and their shutdown order
type app struct {
	cfg    config.App
	logger core.Logger

	processor concurrency.Processor
	sessions  *session.Registry
	publisher events.Publisher
	tracing   bool

	tcp   *tcp.TCPServer
	ws    *ws.Server
	admin *admin.Server
}

func newApp(ctx context.Context, cfg config.App, logger core.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, publisher: events.Noop{}}

	if cfg.Tracing.Enabled {
		err := tracing.Initialize(ctx, tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Exporter:    "stdout",
			SampleRate:  cfg.Tracing.SampleRate,
			Pretty:      cfg.Tracing.Pretty,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.tracing = true
		logger.Info("OpenTelemetry tracing enabled", "exporter", "stdout")
	}

	if cfg.NATS.Enabled {
		pub, err := events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          "mstflow",
		})
		if err != nil {
			a.release(ctx)
			return nil, err
		}
		a.publisher = pub
		logger.Info("publishing task events", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	kinds, err := service.ParseStageKinds(cfg.Processor.Stages)
	if err != nil {
		a.release(ctx)
		return nil, err
	}

	name := cfg.Processor.Mode
	metrics := mstprom.NewMetrics(reg)
	mws := []concurrency.Middleware{metrics.Middleware(name)}
	if a.tracing {
		mws = append(mws, tracing.TaskMiddleware(name, nil))
	}
	if cfg.Log.Debug {
		mws = append(mws, service.LogTasks(logger))
	}
	mws = append(mws, events.Middleware(a.publisher, logger))

	svc := service.New(logger)
	a.processor, err = svc.NewProcessor(ctx, cfg.Processor.Mode, service.ProcessorOptions{
		Name:       name,
		Workers:    cfg.Processor.Workers,
		Stages:     kinds,
		Middleware: mws,
	})
	if err != nil {
		a.release(ctx)
		return nil, err
	}
	if err := metrics.ObserveProcessor(a.processor); err != nil {
		a.release(ctx)
		return nil, err
	}

	a.sessions = session.NewRegistry()
	metrics.ObserveSessions(a.sessions.Len)
	handler := protocol.NewHandler(a.processor, svc, a.sessions, logger)

	a.tcp = tcp.NewTCPServer(ctx, &tcp.TCPServerConfig{
		Addr:           cfg.Server.Addr,
		NormalCapacity: cfg.Server.NormalCapacity,
		MaxConns:       cfg.Server.MaxConns,
		IdleTimeout:    cfg.Server.IdleTimeout.D(),
		WriteTimeout:   cfg.Server.WriteTimeout.D(),
		StopTimeout:    cfg.ShutdownTimeout.D(),
		Logger:         logger,
	})
	a.tcp.Use(tcp.LogConnections(logger))
	a.tcp.SetHandler(func(c *tcp.ConnContext) error {
		return handler.ServeConn(c.Context, c.Conn, c.RemoteAddr.String())
	})
	metrics.ObserveTCPServer("tcp", a.tcp.Metrics)

	if cfg.WebSocket.Enabled {
		a.ws = ws.NewServer(ctx, handler, ws.Config{
			Addr:         cfg.WebSocket.Addr,
			Path:         cfg.WebSocket.Path,
			WriteTimeout: cfg.Server.WriteTimeout.D(),
			Logger:       logger,
		})
	}

	if cfg.Admin.Enabled {
		a.admin = admin.NewServer(a.processor, admin.Config{
			Addr:     cfg.Admin.Addr,
			Logger:   logger,
			Gatherer: gatherer,
			Metrics:  metrics,
		})
		a.admin.SetSessions(a.sessions.Len)
		a.admin.AddServer("tcp", a.tcp.Metrics)
	}
	return a, nil
}

// Run starts every server and blocks until ctx ends or a server fails,
// then shuts everything down.
func (a *app) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	start := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	start("tcp", a.tcp.Start)
	if a.ws != nil {
		start("websocket", a.ws.Start)
	}
	if a.admin != nil {
		start("admin", a.admin.Start)
	}
	a.logger.Info("mstflow started", "mode", a.cfg.Processor.Mode, "addr", a.cfg.Server.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	case runErr = <-errCh:
		a.logger.Errorf("%v", runErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout.D())
	defer cancel()
	return errors.Join(runErr, a.Shutdown(sctx))
}

// Shutdown stops accepting clients, ends live conversations, then stops
// the processor and flushes events and spans.
func (a *app) Shutdown(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	collect := func(name string, err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			mu.Unlock()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		collect("tcp", a.tcp.Stop())
	}()
	if a.ws != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("websocket", a.ws.Stop(ctx))
		}()
	}
	if a.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("admin", a.admin.Stop(ctx))
		}()
	}
	wg.Wait()

	a.sessions.CloseAll()
	collect("processor", a.processor.Stop(ctx))
	a.release(ctx)

	a.logger.Info("mstflow stopped")
	return errors.Join(errs...)
}

// release closes the publisher and flushes spans
func (a *app) release(ctx context.Context) {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warnf("close event publisher: %v", err)
	}
	if a.tracing {
		if err := tracing.Shutdown(ctx); err != nil {
			a.logger.Warnf("flush spans: %v", err)
		}
	}
}
