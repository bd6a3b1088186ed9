// Package diagnostics samples process and host resource usage so
// fabricd can decide when to shed load (reject new gateway
// connections, pause bridge consumption), the same gopsutil-backed
// pattern the reference server's SystemMetrics used.
package diagnostics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Sampler tracks a smoothed CPU percentage and the latest Go runtime
// memory stats. Safe for concurrent use.
type Sampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	memStats   runtime.MemStats
	sampledAt  time.Time
}

// NewSampler constructs a Sampler and takes its first reading.
func NewSampler() *Sampler {
	s := &Sampler{}
	s.Update()
	return s
}

// Update refreshes the CPU and memory readings. CPU sampling blocks
// for up to 1 second (gopsutil's interval-based measurement); call
// this from a dedicated periodic goroutine, never from a hot path.
func (s *Sampler) Update() {
	percents, err := cpu.Percent(time.Second, false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && len(percents) > 0 {
		current := percents[0]
		if s.cpuPercent == 0 {
			s.cpuPercent = current
		} else {
			// Exponential moving average smooths single-sample spikes.
			const alpha = 0.3
			s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
		}
	}

	runtime.ReadMemStats(&s.memStats)
	s.sampledAt = time.Now()
}

// Run calls Update on the given interval until stop fires. Intended to be launched as its own goroutine from
// cmd/fabricd.
func (s *Sampler) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Update()
		case <-stop:
			return
		}
	}
}

// CPUPercent returns the last smoothed CPU reading.
func (s *Sampler) CPUPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPercent
}

// HeapInUse returns the Go runtime's current heap-in-use byte count.
func (s *Sampler) HeapInUse() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memStats.HeapInuse
}

// ShouldReject reports whether CPU usage is at or above
// rejectThreshold (percent), the signal the gateway uses to refuse new
// connections outright.
func (s *Sampler) ShouldReject(rejectThreshold float64) bool {
	return s.CPUPercent() >= rejectThreshold
}

// ShouldPause reports whether CPU usage is at or above pauseThreshold,
// the signal the bridge's Forward uses to stop draining its endpoint
// (and so stop publishing to NATS) for a while.
func (s *Sampler) ShouldPause(pauseThreshold float64) bool {
	return s.CPUPercent() >= pauseThreshold
}
