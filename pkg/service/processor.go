package service

import (
	"context"
	"fmt"

	"github.com/fluxorio/mstflow/pkg/core/concurrency"
)

// Processor modes
const (
	ModePipeline       = "pipeline"
	ModeLeaderFollower = "leader-follower"
)

// ProcessorOptions configures the processors built by the service
type ProcessorOptions struct {
	Name string

	// Workers sizes the leader-follower pool; 0 means one per CPU
	Workers int

	// Stages selects the pipeline links in order; empty means the full chain
	Stages []StageKind

	// Middleware wraps every handler, outermost first
	Middleware []concurrency.Middleware
}

// NewPipeline builds a pipeline from kinds, else from opts.Stages, else
// the full chain
func (s *Service) NewPipeline(ctx context.Context, opts ProcessorOptions, kinds ...StageKind) (*concurrency.PipelineCoordinator, error) {
	if len(kinds) == 0 {
		kinds = opts.Stages
	}
	if len(kinds) == 0 {
		kinds = DefaultStages()
	}
	if opts.Name == "" {
		opts.Name = ModePipeline
	}
	return concurrency.NewPipelineCoordinator(ctx, concurrency.PipelineConfig{
		Name:       opts.Name,
		Stages:     s.Stages(kinds...),
		Middleware: opts.Middleware,
		Logger:     s.logger,
	})
}

// NewLeaderFollower builds a pool running Execute. Dependencies are checked
// per task against the session flags; an unmet one fails the task with a
// reply and it is not re-queued.
func (s *Service) NewLeaderFollower(ctx context.Context, opts ProcessorOptions) *concurrency.LeaderFollowerPool {
	if opts.Name == "" {
		opts.Name = ModeLeaderFollower
	}
	return concurrency.NewLeaderFollowerPool(ctx, concurrency.LeaderFollowerConfig{
		Name:       opts.Name,
		Workers:    opts.Workers,
		Handler:    s.Execute,
		Middleware: opts.Middleware,
		Logger:     s.logger,
	})
}

// NewProcessor builds the processor for mode
func (s *Service) NewProcessor(ctx context.Context, mode string, opts ProcessorOptions) (concurrency.Processor, error) {
	switch mode {
	case ModePipeline, "":
		p, err := s.NewPipeline(ctx, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ModeLeaderFollower:
		return s.NewLeaderFollower(ctx, opts), nil
	}
	return nil, fmt.Errorf("unknown processor mode %q", mode)
}
