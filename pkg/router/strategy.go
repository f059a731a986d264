package router

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"
)

// Strategy orders a list of available provider candidates. The router calls
// Order once per request with the entries left after the pinned provider (if
// any) and the circuit-breaker availability filter have already been
// applied.
type Strategy interface {
	Order(candidates []*entry, stats *StatsRegistry) []*entry
}

// PriorityStrategy tries providers in registration order — "first-registered
// healthy" from the spec.
type PriorityStrategy struct{}

func (PriorityStrategy) Order(candidates []*entry, _ *StatsRegistry) []*entry {
	return candidates
}

// CostOptimizedStrategy orders by ascending historical average cost. A
// provider with no recorded calls yet and no published [llm.Pricing] is
// treated as having unknown cost and is never preferred over a provider with
// a known cost, per the provider contract's documented tie-breaking rule.
type CostOptimizedStrategy struct{}

func (CostOptimizedStrategy) Order(candidates []*entry, stats *StatsRegistry) []*entry {
	out := append([]*entry(nil), candidates...)
	cost := func(e *entry) float64 {
		if avg, ok := stats.AvgCost(e.name); ok {
			return avg
		}
		if pricing, ok := e.provider.Pricing(); ok {
			return pricing.InputPerToken + pricing.OutputPerToken
		}
		return math.Inf(1)
	}
	sort.SliceStable(out, func(i, j int) bool { return cost(out[i]) < cost(out[j]) })
	return out
}

// LatencyOptimizedStrategy orders by ascending historical average latency.
// An untested provider is given latency zero so it gets a first chance
// rather than being starved indefinitely behind already-measured providers.
type LatencyOptimizedStrategy struct{}

func (LatencyOptimizedStrategy) Order(candidates []*entry, stats *StatsRegistry) []*entry {
	out := append([]*entry(nil), candidates...)
	latency := func(e *entry) float64 {
		if avg, ok := stats.AvgLatencyMs(e.name); ok {
			return avg
		}
		return 0
	}
	sort.SliceStable(out, func(i, j int) bool { return latency(out[i]) < latency(out[j]) })
	return out
}

// RoundRobinStrategy rotates the starting offset by one on every call.
type RoundRobinStrategy struct {
	next atomic.Uint64
}

func (s *RoundRobinStrategy) Order(candidates []*entry, _ *StatsRegistry) []*entry {
	n := len(candidates)
	if n == 0 {
		return candidates
	}
	offset := int(s.next.Add(1)-1) % n
	out := make([]*entry, 0, n)
	out = append(out, candidates[offset:]...)
	out = append(out, candidates[:offset]...)
	return out
}

// RandomStrategy shuffles candidates independently on every call.
type RandomStrategy struct{}

func (RandomStrategy) Order(candidates []*entry, _ *StatsRegistry) []*entry {
	out := append([]*entry(nil), candidates...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
