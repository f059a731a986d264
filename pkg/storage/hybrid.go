package storage

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// NormalizationMethod selects how each leg's raw scores are rescaled to
// [0,1] before fusion.
type NormalizationMethod int

const (
	// NormalizeMinMax rescales scores linearly so the lowest score in the
	// list becomes 0 and the highest becomes 1. This is the default.
	NormalizeMinMax NormalizationMethod = iota

	// NormalizeZScore rescales scores by (x - mean) / stddev, then clamps
	// into [0,1] via a logistic squash so outlier scores don't dominate.
	NormalizeZScore
)

// HybridSearchConfig tunes the fusion algorithm.
type HybridSearchConfig struct {
	// SemanticRatio is in [0,1]: 0 favors lexical results exclusively, 1
	// favors vector results exclusively. The zero value runs lexical-only;
	// withDefaults leaves it unchanged.
	SemanticRatio float64

	// FinalLimit is how many fused hits to return. Default 10.
	FinalLimit int

	// MinScore discards fused hits scoring below this threshold after
	// fusion. Default 0 (no threshold).
	MinScore float64

	// Normalization selects the rescaling method applied to each leg's raw
	// scores before fusion. Default [NormalizeMinMax].
	Normalization NormalizationMethod
}

// withDefaults fills zero-value fields with the spec's defaults.
//
// SemanticRatio's zero value is also its "lexical only" edge case, so it is
// intentionally never defaulted here — callers that want the spec's 0.6
// default must set it explicitly.
func (c HybridSearchConfig) withDefaults() HybridSearchConfig {
	if c.FinalLimit <= 0 {
		c.FinalLimit = 10
	}
	return c
}

// HybridSearch implements hybrid_search(query, embedding, cfg, filter?):
// BM25 and vector legs run concurrently, are independently normalized to
// [0,1], linearly combined per cfg.SemanticRatio, thresholded by
// cfg.MinScore, and returned ordered by descending combined score.
//
// Per §4.4's edge cases: an empty lexical query with a non-zero
// SemanticRatio runs vector-only; a zero SemanticRatio or nil embedding runs
// lexical-only. Both legs returning nothing yields an empty result — callers
// decide whether to retry with relaxed filters.
func (s *Store) HybridSearch(ctx context.Context, query string, embedding []float32, cfg HybridSearchConfig, filter ChunkFilter) ([]SearchHit, error) {
	cfg = cfg.withDefaults()
	ratio := cfg.SemanticRatio

	fetchLimit := 2 * cfg.FinalLimit

	// Zero semantic_ratio or a missing embedding: lexical-only. Empty lexical
	// query with a non-zero ratio and an embedding: vector-only.
	runVector := len(embedding) > 0 && ratio > 0
	runLexical := query != "" && ratio < 1

	var ftHits, vecHits []SearchHit
	eg, egCtx := errgroup.WithContext(ctx)

	if runLexical {
		eg.Go(func() error {
			hits, err := s.FulltextSearch(egCtx, query, fetchLimit, filter)
			if err != nil {
				return fmt.Errorf("hybrid search: fulltext leg: %w", err)
			}
			ftHits = hits
			return nil
		})
	}
	if runVector {
		eg.Go(func() error {
			hits, err := s.VectorSearch(egCtx, embedding, fetchLimit, filter)
			if err != nil {
				return fmt.Errorf("hybrid search: vector leg: %w", err)
			}
			vecHits = hits
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ftNorm := normalizeScores(ftHits, cfg.Normalization)
	vecNorm := normalizeScores(vecHits, cfg.Normalization)

	wVec := ratio
	wFt := 1 - ratio

	combined := make(map[string]*SearchHit, len(ftHits)+len(vecHits))
	order := make([]string, 0, len(ftHits)+len(vecHits))

	for i, hit := range ftHits {
		h := hit
		h.Score = wFt * ftNorm[i]
		combined[h.Chunk.ID] = &h
		order = append(order, h.Chunk.ID)
	}
	for i, hit := range vecHits {
		if existing, ok := combined[hit.Chunk.ID]; ok {
			existing.Score += wVec * vecNorm[i]
			continue
		}
		h := hit
		h.Score = wVec * vecNorm[i]
		combined[h.Chunk.ID] = &h
		order = append(order, h.Chunk.ID)
	}

	results := make([]SearchHit, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		h := combined[id]
		if h.Score < cfg.MinScore {
			continue
		}
		results = append(results, *h)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > cfg.FinalLimit {
		results = results[:cfg.FinalLimit]
	}
	return results, nil
}

// normalizeScores rescales raw scores to [0,1] in place order, returning a
// parallel slice so callers can combine normalized scores without mutating
// the original hits (which still carry their leg-native raw score for
// debugging/telemetry).
func normalizeScores(hits []SearchHit, method NormalizationMethod) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	switch method {
	case NormalizeZScore:
		mean, stddev := meanStddev(hits)
		for i, h := range hits {
			z := 0.0
			if stddev > 0 {
				z = (h.Score - mean) / stddev
			}
			out[i] = logistic(z)
		}
	default: // NormalizeMinMax
		min, max := hits[0].Score, hits[0].Score
		for _, h := range hits {
			if h.Score < min {
				min = h.Score
			}
			if h.Score > max {
				max = h.Score
			}
		}
		spread := max - min
		for i, h := range hits {
			if spread == 0 {
				out[i] = 1
				continue
			}
			out[i] = (h.Score - min) / spread
		}
	}
	return out
}

func meanStddev(hits []SearchHit) (mean, stddev float64) {
	sum := 0.0
	for _, h := range hits {
		sum += h.Score
	}
	mean = sum / float64(len(hits))

	variance := 0.0
	for _, h := range hits {
		d := h.Score - mean
		variance += d * d
	}
	variance /= float64(len(hits))
	return mean, math.Sqrt(variance)
}

// logistic squashes a z-score into (0,1), keeping outlier scores from
// dominating the linear combination the way an unbounded z-score would.
func logistic(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
