package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStage(t *testing.T, id int, ready bool, h Handler) *Stage {
	t.Helper()
	s := NewStage(context.Background(), StageConfig{
		ID:            id,
		Name:          "test",
		Handler:       h,
		UpstreamReady: ready,
		Logger:        discardLogger{},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

type discardLogger struct{}

func (discardLogger) Errorf(string, ...interface{}) {}

func TestNewStage_FailFast_NilHandlerPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for nil handler")
		}
	}()
	_ = NewStage(context.Background(), StageConfig{Name: "nil"})
}

func TestStage_ClosedGateHoldsWork(t *testing.T) {
	t.Parallel()
	var ran int32
	s := newTestStage(t, 1, false, func(context.Context, Task) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	if err := s.EnqueueTask(NewTask(OpAddEdge, newTestConn("a"))); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("stage ran a task while its gate was closed")
	}
	if got := s.Stats().Queued; got != 1 {
		t.Errorf("Queued = %d, want 1", got)
	}

	s.SetUpstreamReady(true)
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 }) {
		t.Fatal("task did not run after the gate opened")
	}
}

func TestStage_EnqueueIfReadyRejectsClosedGate(t *testing.T) {
	t.Parallel()
	s := newTestStage(t, 1, false, noopHandler)

	err := s.EnqueueIfReady(NewTask(OpAddEdge, newTestConn("a")))
	if !errors.Is(err, ErrUpstreamNotReady) {
		t.Errorf("EnqueueIfReady() error = %v, want ErrUpstreamNotReady", err)
	}
	if s.Stats().Queued != 0 {
		t.Error("rejected task was queued")
	}
}

func TestStage_ForwardsOnSuccessAndGatesOnFailure(t *testing.T) {
	t.Parallel()
	fail := int32(0)
	var downstream int32

	second := newTestStage(t, 1, false, func(ctx context.Context, task Task) error {
		if !task.Forwarded {
			t.Errorf("downstream got a non-forwarded task %s", task)
		}
		atomic.AddInt32(&downstream, 1)
		return nil
	})
	first := newTestStage(t, 0, true, func(context.Context, Task) error {
		if atomic.LoadInt32(&fail) == 1 {
			return errors.New("rejected")
		}
		return nil
	})
	first.SetNextStage(second)
	second.SetNextStage(second)

	conn := newTestConn("a")
	_ = first.EnqueueTask(NewTask(OpCreateGraph, conn))
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&downstream) == 1 }) {
		t.Fatal("forwarded task did not run downstream")
	}
	if !second.UpstreamReady() {
		t.Error("downstream gate should be open after success")
	}

	atomic.StoreInt32(&fail, 1)
	_ = first.EnqueueTask(NewTask(OpCreateGraph, conn))
	if !waitFor(t, 2*time.Second, func() bool { return !second.UpstreamReady() }) {
		t.Fatal("downstream gate should close after failure")
	}
	first.WaitIdle()
	second.WaitIdle()
	if got := atomic.LoadInt32(&downstream); got != 1 {
		t.Errorf("downstream ran %d times, want 1", got)
	}
	if st := first.Stats(); st.Failed != 1 || st.Executed != 1 {
		t.Errorf("first stats = %+v, want 1 executed 1 failed", st)
	}
}

func TestStage_SinkDoesNotForwardToItself(t *testing.T) {
	t.Parallel()
	var ran int32
	s := newTestStage(t, 0, true, func(context.Context, Task) error {
		atomic.AddInt32(&ran, 1)
		return errors.New("sink failure must not close its own gate")
	})
	s.SetNextStage(s)

	_ = s.EnqueueTask(NewTask(OpDisconnect, newTestConn("a")))
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 }) {
		t.Fatal("sink did not run")
	}
	s.WaitIdle()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("sink ran %d times, want 1", got)
	}
	if !s.UpstreamReady() {
		t.Error("sink changed its own gate")
	}
}

func TestStage_StaleTaskDoesNotTouchDownstream(t *testing.T) {
	t.Parallel()
	var downstream int32
	second := newTestStage(t, 1, false, func(context.Context, Task) error {
		atomic.AddInt32(&downstream, 1)
		return nil
	})
	first := newTestStage(t, 0, true, noopHandler)
	first.SetNextStage(second)

	conn := newTestConn("gone")
	conn.close()
	_ = first.EnqueueTask(NewTask(OpCreateGraph, conn))

	if !waitFor(t, 2*time.Second, func() bool { return first.Stats().Dropped == 1 }) {
		t.Fatal("stale task was not dropped")
	}
	if second.UpstreamReady() {
		t.Error("dropped task opened the downstream gate")
	}
	if second.Stats().Queued != 0 || atomic.LoadInt32(&downstream) != 0 {
		t.Error("dropped task was forwarded")
	}
}

func TestStage_PanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()
	var calls int32
	s := newTestStage(t, 0, true, func(context.Context, Task) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("first task explodes")
		}
		return nil
	})

	conn := newTestConn("a")
	_ = s.EnqueueTask(NewTask(OpCreateGraph, conn))
	_ = s.EnqueueTask(NewTask(OpCreateGraph, conn))
	if !waitFor(t, 2*time.Second, func() bool { return s.Stats().Executed == 1 }) {
		t.Fatal("worker stopped after a handler panic")
	}
	if s.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Stats().Failed)
	}
}

func TestStage_StopWithPendingWorkTerminates(t *testing.T) {
	t.Parallel()
	s := NewStage(context.Background(), StageConfig{Name: "gated", Handler: noopHandler, Logger: discardLogger{}})

	var discarded int32
	conn := newTestConn("a")
	for i := 0; i < 10; i++ {
		task := NewTask(OpAddEdge, conn)
		task.Done = func(e Execution) {
			if e.Discarded {
				atomic.AddInt32(&discarded, 1)
			}
		}
		if err := s.EnqueueTask(task); err != nil {
			t.Fatalf("EnqueueTask() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := atomic.LoadInt32(&discarded); got != 10 {
		t.Errorf("discarded = %d, want 10", got)
	}
	if s.Stats().Discarded != 10 {
		t.Errorf("Stats().Discarded = %d, want 10", s.Stats().Discarded)
	}
}

func TestStage_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStage(context.Background(), StageConfig{Name: "s", Handler: noopHandler, UpstreamReady: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.RequestStop()
	s.RequestStop()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	err := s.EnqueueTask(NewTask(OpCreateGraph, newTestConn("a")))
	if !errors.Is(err, ErrStopped) {
		t.Errorf("EnqueueTask() after stop error = %v, want ErrStopped", err)
	}
	s.WaitIdle()
	s.SetUpstreamReady(true)
}

func TestStage_StopUnblocksRunningHandler(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	s := NewStage(context.Background(), StageConfig{
		Name:          "slow",
		UpstreamReady: true,
		Logger:        discardLogger{},
		Handler: func(ctx context.Context, _ Task) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	_ = s.EnqueueTask(NewTask(OpComputeMST, newTestConn("a")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
