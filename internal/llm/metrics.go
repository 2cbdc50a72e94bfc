package llm

import (
	"sort"
	"sync"
	"time"
)

const latencyWindow = 100

// MetricsCollector counts upstream calls per key (chat, summary, ...).
type MetricsCollector struct {
	requests  map[string]int64
	errors    map[string]int64
	rejected  map[string]int64
	latencies map[string][]time.Duration
	mu        sync.RWMutex
}

// CallStats is a point-in-time view of one key.
type CallStats struct {
	Requests    int64         `json:"requests"`
	Errors      int64         `json:"errors"`
	Rejected    int64         `json:"rejected"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
	LastLatency time.Duration `json:"last_latency_ns"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		requests:  make(map[string]int64),
		errors:    make(map[string]int64),
		rejected:  make(map[string]int64),
		latencies: make(map[string][]time.Duration),
	}
}

// RecordRequest records a call that reached the upstream.
func (mc *MetricsCollector) RecordRequest(key string, success bool, latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests[key]++
	if !success {
		mc.errors[key]++
	}

	mc.latencies[key] = append(mc.latencies[key], latency)
	// Keep only the most recent latencies
	if len(mc.latencies[key]) > latencyWindow {
		mc.latencies[key] = mc.latencies[key][1:]
	}
}

// RecordRejected records a call refused by an open circuit.
func (mc *MetricsCollector) RecordRejected(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.rejected[key]++
}

// Snapshot returns stats for every key seen so far.
func (mc *MetricsCollector) Snapshot() map[string]CallStats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[string]CallStats)
	for _, key := range mc.keysLocked() {
		stats := CallStats{
			Requests: mc.requests[key],
			Errors:   mc.errors[key],
			Rejected: mc.rejected[key],
		}
		if lat := mc.latencies[key]; len(lat) > 0 {
			var total time.Duration
			for _, d := range lat {
				total += d
			}
			stats.AvgLatency = total / time.Duration(len(lat))
			stats.LastLatency = lat[len(lat)-1]
		}
		out[key] = stats
	}
	return out
}

func (mc *MetricsCollector) keysLocked() []string {
	seen := make(map[string]struct{})
	for k := range mc.requests {
		seen[k] = struct{}{}
	}
	for k := range mc.rejected {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
