package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fluxorio/mstflow/pkg/core/failfast"
)

// StageSpec describes one link of a pipeline: the operations routed to it
// and the handler that runs them.
type StageSpec struct {
	Name    string
	Ops     []OpCode
	Handler Handler
}

// PipelineConfig configures a PipelineCoordinator
type PipelineConfig struct {
	Name   string
	Stages []StageSpec

	// Middleware wraps every stage handler, outermost first
	Middleware []Middleware

	Logger Logger
}

// PipelineCoordinator owns an ordered chain of stages. Each stage forwards
// to the next, the last one forwards to itself. Only the first stage's gate
// is opened here; every other gate is driven by its predecessor.
type PipelineCoordinator struct {
	name   string
	stages []*Stage
	routes map[OpCode]int

	stopOnce sync.Once
	stopErr  error
}

// NewPipelineCoordinator builds the chain and starts one worker per stage
func NewPipelineCoordinator(ctx context.Context, cfg PipelineConfig) (*PipelineCoordinator, error) {
	failfast.NotNil(ctx, "ctx")
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one stage")
	}
	if cfg.Name == "" {
		cfg.Name = "pipeline"
	}

	routes := make(map[OpCode]int)
	for i, spec := range cfg.Stages {
		if spec.Handler == nil {
			return nil, fmt.Errorf("stage %d (%s) has no handler", i, spec.Name)
		}
		for _, op := range spec.Ops {
			if prev, dup := routes[op]; dup {
				return nil, fmt.Errorf("operation %s routed to stages %d and %d", op, prev, i)
			}
			routes[op] = i
		}
	}

	pc := &PipelineCoordinator{
		name:   cfg.Name,
		stages: make([]*Stage, len(cfg.Stages)),
		routes: routes,
	}
	for i, spec := range cfg.Stages {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i)
		}
		pc.stages[i] = NewStage(ctx, StageConfig{
			ID:            i,
			Name:          name,
			Handler:       Chain(spec.Handler, cfg.Middleware...),
			UpstreamReady: i == 0,
			Logger:        cfg.Logger,
		})
	}
	for i, s := range pc.stages {
		if i+1 < len(pc.stages) {
			s.SetNextStage(pc.stages[i+1])
		} else {
			s.SetNextStage(s)
		}
	}
	return pc, nil
}

// Name returns the processor name
func (pc *PipelineCoordinator) Name() string { return pc.name }

// Stages returns the chain in order
func (pc *PipelineCoordinator) Stages() []*Stage {
	out := make([]*Stage, len(pc.stages))
	copy(out, pc.stages)
	return out
}

// Stage returns the i-th stage or nil
func (pc *PipelineCoordinator) Stage(i int) *Stage {
	if i < 0 || i >= len(pc.stages) {
		return nil
	}
	return pc.stages[i]
}

// Route returns the index of the stage handling op
func (pc *PipelineCoordinator) Route(op OpCode) (int, bool) {
	i, ok := pc.routes[op]
	return i, ok
}

// Submit dispatches t to its stage and blocks until it has run and the
// chain from that stage on has quiesced. The returned error is the
// handler's outcome, ErrUpstreamNotReady when the stage's gate is closed,
// or ErrStopped / ErrDiscarded around shutdown.
func (pc *PipelineCoordinator) Submit(ctx context.Context, t Task) error {
	idx, ok := pc.routes[t.Op]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, t.Op)
	}

	result := make(chan Execution, 1)
	t.Done = chainDone(t.Done, result)

	if err := pc.stages[idx].EnqueueIfReady(t); err != nil {
		return err
	}

	var exec Execution
	select {
	case exec = <-result:
	case <-ctx.Done():
		return ctx.Err()
	}

	pc.quiesce(idx)
	return exec.Err
}

// quiesce waits for every stage from idx to the end of the chain in order,
// so forwarded work triggered by this task has settled too.
func (pc *PipelineCoordinator) quiesce(from int) {
	for i := from; i < len(pc.stages); i++ {
		pc.stages[i].WaitIdle()
	}
}

// Quiesce waits until every stage is idle
func (pc *PipelineCoordinator) Quiesce() {
	pc.quiesce(0)
}

// Stop requests stop on every stage, then joins them. Idempotent.
func (pc *PipelineCoordinator) Stop(ctx context.Context) error {
	pc.stopOnce.Do(func() {
		for _, s := range pc.stages {
			s.RequestStop()
		}
		var errs []error
		for _, s := range pc.stages {
			if err := s.Join(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stage %s: %w", s.Name(), err))
			}
		}
		pc.stopErr = errors.Join(errs...)
	})
	return pc.stopErr
}

// Stats returns aggregated counters plus a per-stage breakdown
func (pc *PipelineCoordinator) Stats() ProcessorStats {
	st := ProcessorStats{Name: pc.name, Workers: len(pc.stages)}
	for _, s := range pc.stages {
		ss := s.Stats()
		st.Executed += ss.Executed
		st.Failed += ss.Failed
		st.Dropped += ss.Dropped
		st.Discarded += ss.Discarded
		st.Queued += ss.Queued
		st.Stages = append(st.Stages, ss)
	}
	return st
}

func chainDone(prev func(Execution), ch chan<- Execution) func(Execution) {
	return func(e Execution) {
		if prev != nil {
			prev(e)
		}
		ch <- e
	}
}
