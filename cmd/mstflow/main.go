// Command mstflow serves the MST menu protocol over TCP (and optionally
// WebSocket), running client operations on a staged pipeline or a
// leader-follower pool.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/mstflow/pkg/config"
	"github.com/fluxorio/mstflow/pkg/core"
	mstprom "github.com/fluxorio/mstflow/pkg/observability/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	mode := flag.String("mode", "", "processor mode: pipeline or leader-follower (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *mode)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, mstprom.DefaultRegisterer, mstprom.DefaultRegistry)
	if err != nil {
		logger.Errorf("start: %v", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Errorf("mstflow stopped with error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path, mode string) (config.App, error) {
	cfg, err := config.LoadApp(path)
	if err != nil {
		return cfg, err
	}
	if mode != "" {
		cfg.Processor.Mode = mode
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) core.Logger {
	if cfg.Format == "json" {
		return core.NewJSONLogger()
	}
	return core.NewDefaultLogger()
}
