// Package embeddings implements the Embedding Service: a content-hash cache
// in front of a configurable [embeddings.Provider], used by both the RAG
// orchestrator (single-text queries) and the ingestion pipeline (batch calls).
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/embeddings"
)

// entry is a cached embedding tagged by the model that produced it, so that
// switching the active model does not serve stale-dimension vectors: a hit
// on a stale-model key is treated as a miss and regenerated.
type entry struct {
	model  string
	vector []float32
}

// Service wraps an embeddings.Provider with a content-hash cache. Entries are
// immutable once written, matching the concurrency model's requirement that
// the cache be safe for many concurrent readers with no in-place mutation.
//
// Switching the active provider (via SetProvider) does not evict existing
// entries. The cache key is the text hash alone; each entry records the model
// that produced it, and an entry from another model is treated as a miss and
// replaced by the next lookup of the same text.
type Service struct {
	mu       sync.RWMutex
	provider embeddings.Provider
	cache    sync.Map // hash(text) -> entry
}

// NewService creates an Embedding Service backed by provider. provider may be
// nil, in which case Get/GetBatch return [ErrNoProvider] until SetProvider is
// called — the system still functions lexical-only per §5's startup ordering.
func NewService(provider embeddings.Provider) *Service {
	return &Service{provider: provider}
}

// ErrNoProvider is returned when no embedding provider has been configured.
var ErrNoProvider = fmt.Errorf("embeddings: no provider configured")

// SetProvider swaps the active provider. Existing cache entries are kept, but
// an entry tagged with a different model id is a miss for lookups made through
// the new provider; new entries are tagged with the new provider's ModelID.
func (s *Service) SetProvider(p embeddings.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
}

// Dimensions returns the active provider's vector dimensionality, or 0 if no
// provider is configured.
func (s *Service) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil {
		return 0
	}
	return s.provider.Dimensions()
}

// Get implements get_or_generate(text) -> Vec<f32>: cache-first, on miss calls
// the active provider, stores, and returns.
func (s *Service) Get(ctx context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p == nil {
		return nil, ErrNoProvider
	}

	key := contentKey(text)
	if v, ok := s.cache.Load(key); ok {
		if e := v.(entry); e.model == p.ModelID() {
			return e.vector, nil
		}
	}

	vec, err := p.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embeddings: generate: %w", err)
	}
	s.cache.Store(key, entry{model: p.ModelID(), vector: vec})
	return vec, nil
}

// GetBatch is the batch variant used by the ingestion pipeline. Ordering of
// outputs matches ordering of inputs. Cache hits and misses may be
// interleaved; misses are sent to the provider as a single batch call to
// preserve the "far more efficient than looping" contract of
// [embeddings.Provider.EmbedBatch].
func (s *Service) GetBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p == nil {
		return nil, ErrNoProvider
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := contentKey(t)
		if v, ok := s.cache.Load(key); ok {
			if e := v.(entry); e.model == p.ModelID() {
				results[i] = e.vector
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := p.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embeddings: generate batch: %w", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embeddings: provider returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}

	for j, idx := range missIdx {
		results[idx] = vecs[j]
		s.cache.Store(contentKey(missTexts[j]), entry{model: p.ModelID(), vector: vecs[j]})
	}
	return results, nil
}

// contentKey hashes text to a fixed-width cache key. sha256 (stdlib) is used
// rather than a pack-provided hashing library: no non-cryptographic hashing
// package appears anywhere in the retrieval pack for this purpose, and
// collision-resistance is a reasonable property for a cache key derived from
// arbitrary user/document text.
func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
