package tcp

import (
	"sync"
	"testing"
)

func TestBackpressureController_FailFast_CapacityExceeded(t *testing.T) {
	t.Parallel()

	bc := NewBackpressureController(2)

	if !bc.TryAcquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if !bc.TryAcquire() {
		t.Fatalf("expected second acquire to succeed")
	}
	if bc.TryAcquire() {
		t.Fatalf("expected third acquire to fail-fast")
	}

	m := bc.GetMetrics()
	if m.RejectedCount != 1 {
		t.Fatalf("expected rejected count 1, got %d", m.RejectedCount)
	}
	if m.Utilization != 100 {
		t.Fatalf("expected 100%% utilization, got %v", m.Utilization)
	}

	bc.Release()
	if !bc.TryAcquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestBackpressureController_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	t.Parallel()

	bc := NewBackpressureController(10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bc.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Fatalf("granted %d slots, want 10", granted)
	}
	if m := bc.GetMetrics(); m.CurrentLoad != 10 || m.RejectedCount != 90 {
		t.Fatalf("metrics = %+v, want load 10 rejected 90", m)
	}
}
