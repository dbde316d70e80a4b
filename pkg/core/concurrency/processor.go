package concurrency

import "context"

// Processor is the contract shared by the pipeline and the leader-follower
// pool: submit a task and get back its outcome.
type Processor interface {
	// Name identifies the processor in logs and metrics
	Name() string

	// Submit runs t and blocks until it finished, was rejected, or ctx ended.
	// The error is the task's outcome.
	Submit(ctx context.Context, t Task) error

	// Stop discards pending work and joins every worker. Idempotent.
	Stop(ctx context.Context) error

	// Stats returns a snapshot of the processor counters
	Stats() ProcessorStats
}

// ProcessorStats is a snapshot of processor counters.
// Stages is set for pipelines, LeaderClaims for leader-follower pools.
type ProcessorStats struct {
	Name         string       `json:"name"`
	Workers      int          `json:"workers"`
	Executed     int64        `json:"executed"`
	Failed       int64        `json:"failed"`
	Dropped      int64        `json:"dropped"`
	Discarded    int64        `json:"discarded"`
	Queued       int          `json:"queued"`
	Stages       []StageStats `json:"stages,omitempty"`
	LeaderClaims []int64      `json:"leader_claims,omitempty"`
}

var _ Processor = (*PipelineCoordinator)(nil)
var _ Processor = (*LeaderFollowerPool)(nil)
