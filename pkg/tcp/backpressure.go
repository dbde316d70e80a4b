package tcp

import (
	"sync/atomic"
)

// BackpressureController bounds concurrent connections to a normal
// capacity baseline, rejecting overflow fail-fast to protect the runtime.
// Connections are long-lived, so load only drops on Release.
type BackpressureController struct {
	normalCapacity int64 // Normal capacity (target utilization baseline)
	currentLoad    int64 // Current load (atomic)
	rejectedCount  int64 // Rejected connections count
}

// NewBackpressureController creates a new backpressure controller.
func NewBackpressureController(normalCapacity int) *BackpressureController {
	if normalCapacity < 1 {
		normalCapacity = 1
	}
	return &BackpressureController{normalCapacity: int64(normalCapacity)}
}

// TryAcquire attempts to acquire capacity (fail-fast).
// Returns true if normal capacity is available, false if it should reject.
func (bc *BackpressureController) TryAcquire() bool {
	for {
		current := atomic.LoadInt64(&bc.currentLoad)
		if current >= bc.normalCapacity {
			atomic.AddInt64(&bc.rejectedCount, 1)
			return false
		}
		if atomic.CompareAndSwapInt64(&bc.currentLoad, current, current+1) {
			return true
		}
	}
}

// Release releases capacity.
func (bc *BackpressureController) Release() {
	atomic.AddInt64(&bc.currentLoad, -1)
}

// GetMetrics returns current backpressure metrics.
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	currentLoad := atomic.LoadInt64(&bc.currentLoad)
	normal := bc.normalCapacity
	util := 0.0
	if normal > 0 {
		util = float64(currentLoad) / float64(normal) * 100
	}
	return BackpressureMetrics{
		NormalCapacity: normal,
		CurrentLoad:    currentLoad,
		RejectedCount:  atomic.LoadInt64(&bc.rejectedCount),
		Utilization:    util,
	}
}

// BackpressureMetrics provides backpressure statistics.
type BackpressureMetrics struct {
	NormalCapacity int64   // Normal capacity (target utilization)
	CurrentLoad    int64   // Current load
	RejectedCount  int64   // Total rejected connections
	Utilization    float64 // Utilization percentage (relative to normal capacity)
}
