package concurrency

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/mstflow/pkg/core/failfast"
)

// StageConfig configures a Stage
type StageConfig struct {
	ID      int
	Name    string
	Handler Handler

	// UpstreamReady is the initial gate. Only a chain's first stage starts open.
	UpstreamReady bool

	Logger Logger
}

// Stage is an active object: one worker goroutine that owns a task queue and
// runs tasks only while its upstream gate is open. After each task it sets
// the next stage's gate to the task's outcome and, on success, hands the
// next stage a forwarded task.
//
// Lock order is stage before queue. A worker never holds its own lock while
// taking another stage's lock.
type Stage struct {
	id     int
	name   string
	queue  *TaskQueue
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	wake          *sync.Cond // worker waits here for runnable work
	idle          *sync.Cond // quiesce waiters wait here
	handler       Handler
	next          *Stage // not owned
	upstreamReady bool
	busy          bool
	stopping      bool

	done chan struct{}

	executed  int64
	failed    int64
	dropped   int64
	discarded int64
}

// NewStage creates a stage and starts its worker
func NewStage(ctx context.Context, cfg StageConfig) *Stage {
	failfast.NotNil(ctx, "ctx")
	failfast.NotNil(cfg.Handler, "stage handler")
	failfast.If(cfg.ID >= 0, "stage %s has negative id %d", cfg.Name, cfg.ID)
	if cfg.Logger == nil {
		cfg.Logger = newDefaultLogger()
	}

	ctx, cancel := context.WithCancel(WithWorker(ctx, cfg.Name))
	s := &Stage{
		id:            cfg.ID,
		name:          cfg.Name,
		queue:         NewTaskQueue(),
		logger:        cfg.Logger,
		ctx:           ctx,
		cancel:        cancel,
		handler:       cfg.Handler,
		upstreamReady: cfg.UpstreamReady,
		done:          make(chan struct{}),
	}
	s.wake = sync.NewCond(&s.mu)
	s.idle = sync.NewCond(&s.mu)

	go s.run()
	return s
}

// ID returns the stage ordinal
func (s *Stage) ID() int { return s.id }

// Name returns the stage name
func (s *Stage) Name() string { return s.name }

// SetHandler replaces the handler bound to tasks enqueued from now on
func (s *Stage) SetHandler(h Handler) {
	failfast.NotNil(h, "stage handler")
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SetNextStage links the stage that receives forwarded work.
// Pointing a stage at itself marks it as the sink.
func (s *Stage) SetNextStage(next *Stage) {
	failfast.NotNil(next, "next stage")
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()
}

// SetUpstreamReady opens or closes the gate
func (s *Stage) SetUpstreamReady(ready bool) {
	s.mu.Lock()
	s.setGateLocked(ready)
	s.mu.Unlock()
}

func (s *Stage) setGateLocked(ready bool) {
	s.upstreamReady = ready
	if ready && !s.busy {
		s.wake.Signal()
	}
	s.idle.Broadcast()
}

// UpstreamReady reports the gate state
func (s *Stage) UpstreamReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamReady
}

// EnqueueTask queues t regardless of the gate. After stop it is a no-op
// that returns ErrStopped.
func (s *Stage) EnqueueTask(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	s.enqueueLocked(t)
	return nil
}

// EnqueueIfReady queues t only if the gate is open, so a caller never
// parks work behind an upstream stage that has not committed.
func (s *Stage) EnqueueIfReady(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if !s.upstreamReady {
		return ErrUpstreamNotReady
	}
	s.enqueueLocked(t)
	return nil
}

func (s *Stage) enqueueLocked(t Task) {
	s.queue.Enqueue(t, s.handler)
	if !s.busy {
		s.wake.Signal()
	}
}

func (s *Stage) runnableLocked() bool {
	return s.upstreamReady && !s.queue.IsEmpty()
}

func (s *Stage) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for !s.stopping && !s.runnableLocked() {
			s.wake.Wait()
		}
		if s.stopping {
			s.mu.Unlock()
			break
		}
		s.busy = true
		next := s.next
		s.mu.Unlock()

		exec, err := s.queue.DequeueAndExecute(s.ctx)
		if err == nil {
			s.record(exec)
			if !exec.Dropped {
				s.forward(next, exec)
			}
		}

		s.mu.Lock()
		s.busy = false
		s.idle.Broadcast()
		s.mu.Unlock()
	}

	n := len(s.queue.Clear())
	atomic.AddInt64(&s.discarded, int64(n))

	s.mu.Lock()
	s.busy = false
	s.idle.Broadcast()
	s.mu.Unlock()
}

func (s *Stage) record(exec Execution) {
	switch {
	case exec.Dropped:
		atomic.AddInt64(&s.dropped, 1)
	case exec.Err != nil:
		atomic.AddInt64(&s.failed, 1)
		s.logger.Errorf("stage %s: task %s failed: %v", s.name, exec.Task, exec.Err)
	default:
		atomic.AddInt64(&s.executed, 1)
	}
}

// forward sets the next stage's gate to the outcome and hands it the
// forwarded task on success. A stage linked to itself is the sink and
// changes nothing.
func (s *Stage) forward(next *Stage, exec Execution) {
	if next == nil || next == s {
		return
	}
	ok := exec.OK()

	next.mu.Lock()
	defer next.mu.Unlock()
	if next.stopping {
		return
	}
	if ok {
		next.queue.Enqueue(exec.Task.Forward(), next.handler)
	}
	next.setGateLocked(ok)
}

// WaitIdle blocks until the stage is neither running a task nor holding
// runnable work. Queued tasks behind a closed gate do not count. Returns
// at once after stop.
func (s *Stage) WaitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.stopping && (s.busy || s.runnableLocked()) {
		s.idle.Wait()
	}
}

// Busy reports whether the worker is inside a handler
func (s *Stage) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// RequestStop asks the worker to exit after its current task. Idempotent.
func (s *Stage) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.stopping = true
	s.cancel()
	s.wake.Broadcast()
	s.idle.Broadcast()
}

// Join waits for the worker to exit, bounded by ctx
func (s *Stage) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests stop and joins the worker. Pending tasks are discarded.
func (s *Stage) Stop(ctx context.Context) error {
	s.RequestStop()
	return s.Join(ctx)
}

// StageStats is a snapshot of a stage's counters
type StageStats struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Executed      int64  `json:"executed"`
	Failed        int64  `json:"failed"`
	Dropped       int64  `json:"dropped"`
	Discarded     int64  `json:"discarded"`
	Queued        int    `json:"queued"`
	UpstreamReady bool   `json:"upstream_ready"`
	Busy          bool   `json:"busy"`
}

// Stats returns a snapshot of the stage counters
func (s *Stage) Stats() StageStats {
	s.mu.Lock()
	ready, busy := s.upstreamReady, s.busy
	s.mu.Unlock()
	return StageStats{
		ID:            s.id,
		Name:          s.name,
		Executed:      atomic.LoadInt64(&s.executed),
		Failed:        atomic.LoadInt64(&s.failed),
		Dropped:       atomic.LoadInt64(&s.dropped),
		Discarded:     atomic.LoadInt64(&s.discarded),
		Queued:        s.queue.Size(),
		UpstreamReady: ready,
		Busy:          busy,
	}
}
