package utils

import (
	"sort"
	"sync"
	"time"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to list of latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time
}

// OperationStats summarises the recorded latencies of one operation.
type OperationStats struct {
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	P95   time.Duration `json:"p95"`
}

// Snapshot is a point-in-time copy of the collector, safe to serialize.
type Snapshot struct {
	Uptime     time.Duration             `json:"uptime"`
	Requests   uint64                    `json:"requests"`
	Errors     uint64                    `json:"errors"`
	Operations map[string]OperationStats `json:"operations"`
}

const maxSamplesPerOperation = 1024

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	samples := append(mc.operationTimes[operationName], duration.Nanoseconds())
	if len(samples) > maxSamplesPerOperation {
		samples = samples[len(samples)-maxSamplesPerOperation:]
	}
	mc.operationTimes[operationName] = samples
}

// Track records the latency of an operation started at start and counts a
// failure when err is non-nil.
func (mc *MetricsCollector) Track(operationName string, start time.Time, err error) {
	mc.AddOperationLatency(operationName, time.Since(start))
	if err != nil {
		mc.IncrementErrors()
	}
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := Snapshot{
		Uptime:     time.Since(mc.systemStartTime),
		Requests:   mc.requestCount,
		Errors:     mc.errorCount,
		Operations: make(map[string]OperationStats, len(mc.operationTimes)),
	}
	for name, samples := range mc.operationTimes {
		if len(samples) == 0 {
			continue
		}
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total int64
		for _, s := range sorted {
			total += s
		}
		idx := (len(sorted)*95 + 99) / 100
		if idx > 0 {
			idx--
		}
		snap.Operations[name] = OperationStats{
			Count: len(sorted),
			Avg:   time.Duration(total / int64(len(sorted))),
			P95:   time.Duration(sorted[idx]),
		}
	}
	return snap
}
