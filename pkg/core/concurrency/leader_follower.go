package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/mstflow/pkg/core/failfast"
)

// NoLeader is the leader value while no worker holds leadership
const NoLeader = -1

// MinLeaderFollowerWorkers is the smallest pool size
const MinLeaderFollowerWorkers = 2

// LeaderFollowerConfig configures a LeaderFollowerPool
type LeaderFollowerConfig struct {
	Name string

	// Workers is the pool size. Zero means runtime.NumCPU().
	// Values below MinLeaderFollowerWorkers are raised to it.
	Workers int

	// Handler runs tasks given to Submit. Enqueue takes its own handler.
	Handler Handler

	// Middleware wraps Handler, outermost first
	Middleware []Middleware

	Logger Logger
}

// DefaultLeaderFollowerConfig returns a pool sized to the machine
func DefaultLeaderFollowerConfig() LeaderFollowerConfig {
	return LeaderFollowerConfig{
		Name:    "leader-follower",
		Workers: runtime.NumCPU(),
	}
}

// LeaderFollowerPool runs a fixed set of workers sharing one queue. Only the
// worker holding leadership may dequeue. It runs the task with no lock held,
// then gives leadership up and wakes the followers. A worker that just led
// defers to any waiting follower, so leadership rotates.
type LeaderFollowerPool struct {
	name    string
	queue   *TaskQueue
	handler Handler
	logger  Logger
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cond       *sync.Cond
	leader     int
	lastLeader int
	waiting    int
	stopping   bool

	wg sync.WaitGroup

	claims    []int64
	executed  int64
	failed    int64
	dropped   int64
	discarded int64
}

// NewLeaderFollowerPool creates the pool and starts its workers
func NewLeaderFollowerPool(ctx context.Context, cfg LeaderFollowerConfig) *LeaderFollowerPool {
	failfast.NotNil(ctx, "ctx")
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Workers < MinLeaderFollowerWorkers {
		cfg.Workers = MinLeaderFollowerWorkers
	}
	if cfg.Name == "" {
		cfg.Name = "leader-follower"
	}
	if cfg.Logger == nil {
		cfg.Logger = newDefaultLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &LeaderFollowerPool{
		name:       cfg.Name,
		queue:      NewTaskQueue(),
		logger:     cfg.Logger,
		workers:    cfg.Workers,
		ctx:        ctx,
		cancel:     cancel,
		leader:     NoLeader,
		lastLeader: NoLeader,
		claims:     make([]int64, cfg.Workers),
	}
	if cfg.Handler != nil {
		p.handler = Chain(cfg.Handler, cfg.Middleware...)
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Name returns the pool name
func (p *LeaderFollowerPool) Name() string { return p.name }

// Workers returns the pool size
func (p *LeaderFollowerPool) Workers() int { return p.workers }

// Leader returns the current leader id or NoLeader
func (p *LeaderFollowerPool) Leader() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader
}

// Enqueue queues t bound to h and wakes the pool. After stop it returns
// ErrStopped and t is not queued.
func (p *LeaderFollowerPool) Enqueue(t Task, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return ErrStopped
	}
	p.queue.Enqueue(t, h)
	p.cond.Broadcast()
	return nil
}

// Submit enqueues t with the pool handler and waits for its outcome
func (p *LeaderFollowerPool) Submit(ctx context.Context, t Task) error {
	failfast.NotNil(p.handler, "leader-follower handler")

	result := make(chan Execution, 1)
	t.Done = chainDone(t.Done, result)
	if err := p.Enqueue(t, p.handler); err != nil {
		return err
	}

	select {
	case exec := <-result:
		return exec.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// canLeadLocked decides whether worker id may take leadership now
func (p *LeaderFollowerPool) canLeadLocked(id int) bool {
	if p.leader != NoLeader || p.queue.IsEmpty() {
		return false
	}
	return id != p.lastLeader || p.waiting == 0
}

func (p *LeaderFollowerPool) worker(id int) {
	defer p.wg.Done()
	ctx := WithWorker(p.ctx, fmt.Sprintf("%s-%d", p.name, id))
	for {
		p.mu.Lock()
		for !p.stopping && !p.canLeadLocked(id) {
			if p.leader == NoLeader && !p.queue.IsEmpty() {
				// We led last and a follower is waiting: hand over.
				p.cond.Broadcast()
			}
			p.waiting++
			p.cond.Wait()
			p.waiting--
		}
		if p.stopping {
			p.mu.Unlock()
			return
		}
		p.leader = id
		p.lastLeader = id
		p.mu.Unlock()
		atomic.AddInt64(&p.claims[id], 1)

		exec, err := p.queue.DequeueAndExecute(ctx)
		if err == nil {
			p.record(exec)
		}

		p.mu.Lock()
		p.leader = NoLeader
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *LeaderFollowerPool) record(exec Execution) {
	switch {
	case exec.Dropped:
		atomic.AddInt64(&p.dropped, 1)
	case exec.Err != nil:
		atomic.AddInt64(&p.failed, 1)
		p.logger.Errorf("%s: task %s failed: %v", p.name, exec.Task, exec.Err)
	default:
		atomic.AddInt64(&p.executed, 1)
	}
}

// Stop sets the stop flag, discards queued tasks, wakes every worker and
// joins them, bounded by ctx. Idempotent.
func (p *LeaderFollowerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopping {
		p.stopping = true
		p.cancel()
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	n := len(p.queue.Clear())
	atomic.AddInt64(&p.discarded, int64(n))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pool counters
func (p *LeaderFollowerPool) Stats() ProcessorStats {
	claims := make([]int64, len(p.claims))
	for i := range p.claims {
		claims[i] = atomic.LoadInt64(&p.claims[i])
	}
	return ProcessorStats{
		Name:         p.name,
		Workers:      p.workers,
		Executed:     atomic.LoadInt64(&p.executed),
		Failed:       atomic.LoadInt64(&p.failed),
		Dropped:      atomic.LoadInt64(&p.dropped),
		Discarded:    atomic.LoadInt64(&p.discarded),
		Queued:       p.queue.Size(),
		LeaderClaims: claims,
	}
}
