package utils

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// SlowResponseThreshold marks a backend call as slow
const SlowResponseThreshold = 5 * time.Second

// RequestStats tracks backend call outcomes for the local dashboard
type RequestStats struct {
	TotalRequests  int64
	FailedRequests int64
	Timeouts       int64
	SlowResponses  int64
	TotalLatency   int64
	MaxLatency     int64
	MinLatency     int64
	startTime      time.Time
}

// NewRequestStats returns zeroed stats
func NewRequestStats() *RequestStats {
	return &RequestStats{MinLatency: math.MaxInt64, startTime: time.Now()}
}

// Record accounts one finished request
func (s *RequestStats) Record(latency time.Duration, failed, timedOut bool) {
	atomic.AddInt64(&s.TotalRequests, 1)
	atomic.AddInt64(&s.TotalLatency, int64(latency))
	if failed {
		atomic.AddInt64(&s.FailedRequests, 1)
	}
	if timedOut {
		atomic.AddInt64(&s.Timeouts, 1)
	}
	if latency > SlowResponseThreshold {
		atomic.AddInt64(&s.SlowResponses, 1)
	}

	for {
		current := atomic.LoadInt64(&s.MaxLatency)
		if int64(latency) <= current {
			break
		}
		if atomic.CompareAndSwapInt64(&s.MaxLatency, current, int64(latency)) {
			break
		}
	}

	for {
		current := atomic.LoadInt64(&s.MinLatency)
		if int64(latency) >= current {
			break
		}
		if atomic.CompareAndSwapInt64(&s.MinLatency, current, int64(latency)) {
			break
		}
	}
}

// StatsSnapshot is the JSON view of RequestStats
type StatsSnapshot struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	Timeouts       int64   `json:"timeouts"`
	SlowResponses  int64   `json:"slow_responses"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	MaxLatencyMS   float64 `json:"max_latency_ms"`
	MinLatencyMS   float64 `json:"min_latency_ms"`
	ErrorRate      float64 `json:"error_rate"`
	HeapAllocMB    float64 `json:"heap_alloc_mb"`
	GoroutineCount int     `json:"goroutine_count"`
}

// Snapshot computes derived values
func (s *RequestStats) Snapshot() StatsSnapshot {
	total := atomic.LoadInt64(&s.TotalRequests)
	snap := StatsSnapshot{
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		TotalRequests:  total,
		FailedRequests: atomic.LoadInt64(&s.FailedRequests),
		Timeouts:       atomic.LoadInt64(&s.Timeouts),
		SlowResponses:  atomic.LoadInt64(&s.SlowResponses),
		MaxLatencyMS:   float64(atomic.LoadInt64(&s.MaxLatency)) / float64(time.Millisecond),
		GoroutineCount: runtime.NumGoroutine(),
	}
	if total > 0 {
		snap.AvgLatencyMS = float64(atomic.LoadInt64(&s.TotalLatency)) / float64(total) / float64(time.Millisecond)
		snap.MinLatencyMS = float64(atomic.LoadInt64(&s.MinLatency)) / float64(time.Millisecond)
		snap.ErrorRate = float64(snap.FailedRequests) / float64(total) * 100
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	return snap
}
