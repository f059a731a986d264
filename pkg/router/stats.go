package router

import (
	"sync"
	"time"
)

// providerStat accumulates running totals for one provider. Process-local
// and in-memory by design — restart loses history, which is acceptable
// since it only informs strategy ordering, not billing (the ledger of
// record for billing is storage.UsageRecord).
type providerStat struct {
	mu           sync.Mutex
	count        int64
	totalCostUSD float64
	totalLatency time.Duration
}

// StatsRegistry tracks per-provider historical averages consulted by the
// CostOptimized and LatencyOptimized strategies.
type StatsRegistry struct {
	mu sync.RWMutex
	m  map[string]*providerStat
}

func newStatsRegistry() *StatsRegistry {
	return &StatsRegistry{m: make(map[string]*providerStat)}
}

func (r *StatsRegistry) statFor(name string) *providerStat {
	r.mu.RLock()
	s, ok := r.m[name]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[name]; ok {
		return s
	}
	s = &providerStat{}
	r.m[name] = s
	return s
}

// Record appends one successful call's cost and latency to the running
// average for name.
func (r *StatsRegistry) Record(name string, costUSD float64, latency time.Duration) {
	s := r.statFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.totalCostUSD += costUSD
	s.totalLatency += latency
}

// AvgCost returns the running average cost per call for name. ok is false
// when no call has ever been recorded.
func (r *StatsRegistry) AvgCost(name string) (avg float64, ok bool) {
	s := r.statFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, false
	}
	return s.totalCostUSD / float64(s.count), true
}

// AvgLatencyMs returns the running average latency in milliseconds for
// name. ok is false when no call has ever been recorded.
func (r *StatsRegistry) AvgLatencyMs(name string) (avg float64, ok bool) {
	s := r.statFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, false
	}
	return float64(s.totalLatency.Milliseconds()) / float64(s.count), true
}

// Count returns the number of recorded calls for name.
func (r *StatsRegistry) Count(name string) int64 {
	s := r.statFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
