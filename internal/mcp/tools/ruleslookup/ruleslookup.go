// Package ruleslookup provides built-in MCP tools for searching and
// retrieving rulebook passages out of the ingested Storage Core, rather than
// a fixed embedded dataset: "search_rules" runs the same embed → preprocess
// → hybrid search pipeline the RAG Orchestrator uses, and "get_rule" fetches
// one chunk verbatim by the id a prior search returned.
//
// All handlers are safe for concurrent use.
package ruleslookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inkbound-tabletop/inkbound-core/internal/mcp/tools"
	"github.com/inkbound-tabletop/inkbound-core/pkg/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/preprocess"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

const defaultSearchLimit = 10

// searchRulesArgs is the JSON-decoded input for the "search_rules" tool.
type searchRulesArgs struct {
	// Query is the keyword or phrase to search for.
	Query string `json:"query"`

	// System optionally restricts results to a specific game system
	// (e.g. "dnd5e"). An empty string searches all systems.
	System string `json:"system,omitempty"`
}

// getRuleArgs is the JSON-decoded input for the "get_rule" tool.
type getRuleArgs struct {
	// ID is the chunk id returned by a prior search_rules call.
	ID string `json:"id"`
}

// ruleResult is the JSON shape returned for each search_rules match.
type ruleResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	System    string  `json:"system,omitempty"`
	PageStart int     `json:"page_start"`
	PageEnd   int     `json:"page_end"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// deps bundles what the handlers need from the retrieval pipeline, closed
// over by the handler closures returned from [Tools].
type deps struct {
	store        *storage.Store
	embedder     *embeddings.Service
	preprocessor *preprocess.Preprocessor
	search       storage.HybridSearchConfig
}

func (d *deps) searchRulesHandler(ctx context.Context, args string) (string, error) {
	var a searchRulesArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("rules: search_rules: failed to parse arguments: %w", err)
	}
	if a.Query == "" {
		return "", fmt.Errorf("rules: search_rules: query must not be empty")
	}

	vector, err := d.embedder.Get(ctx, a.Query)
	if err != nil {
		return "", fmt.Errorf("rules: search_rules: embed query: %w", err)
	}

	result := d.preprocessor.Process(a.Query)

	hits, err := d.store.HybridSearch(ctx, result.LexicalQuery, vector, d.search, storage.ChunkFilter{GameSystem: a.System})
	if err != nil {
		return "", fmt.Errorf("rules: search_rules: %w", err)
	}

	matches := make([]ruleResult, 0, len(hits))
	for _, hit := range hits {
		title := hit.Chunk.SectionTitle
		if title == "" {
			title = hit.Chunk.ChapterTitle
		}
		matches = append(matches, ruleResult{
			ID:        hit.Chunk.ID,
			Title:     title,
			PageStart: hit.Chunk.PageStart,
			PageEnd:   hit.Chunk.PageEnd,
			Text:      hit.Chunk.Content,
			Score:     hit.Score,
		})
	}

	res, err := json.Marshal(matches)
	if err != nil {
		return "", fmt.Errorf("rules: search_rules: failed to encode result: %w", err)
	}
	return string(res), nil
}

func (d *deps) getRuleHandler(ctx context.Context, args string) (string, error) {
	var a getRuleArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("rules: get_rule: failed to parse arguments: %w", err)
	}
	if a.ID == "" {
		return "", fmt.Errorf("rules: get_rule: id must not be empty")
	}

	chunk, err := d.store.GetChunk(ctx, a.ID)
	if err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			return "", fmt.Errorf("rules: get_rule: rule %q not found", a.ID)
		}
		return "", fmt.Errorf("rules: get_rule: %w", err)
	}

	res, err := json.Marshal(ruleResult{
		ID:        chunk.ID,
		Title:     chunk.SectionTitle,
		PageStart: chunk.PageStart,
		PageEnd:   chunk.PageEnd,
		Text:      chunk.Content,
	})
	if err != nil {
		return "", fmt.Errorf("rules: get_rule: failed to encode result: %w", err)
	}
	return string(res), nil
}

// Tools returns the rules-lookup tools ready for registration with the MCP
// Host, backed by store/embedder/preprocessor rather than a fixed dataset.
// cfg tunes the underlying hybrid search call; a zero value uses the
// package's defaults.
//
// The returned tools are:
//   - "search_rules": hybrid (lexical + vector) search over ingested
//     rulebook chunks.
//   - "get_rule": retrieve a specific chunk by the id a prior search
//     returned.
func Tools(store *storage.Store, embedder *embeddings.Service, preprocessor *preprocess.Preprocessor, cfg storage.HybridSearchConfig) []tools.Tool {
	if cfg.FinalLimit <= 0 {
		cfg.FinalLimit = defaultSearchLimit
	}

	d := &deps{store: store, embedder: embedder, preprocessor: preprocessor, search: cfg}

	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "search_rules",
				Description: "Search ingested rulebook passages by keyword and meaning. Returns matching passages with their citation id, title, page range, and full text. Optionally restrict the search to a specific game system.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Keyword or phrase to search for across rulebook passages.",
						},
						"system": map[string]any{
							"type":        "string",
							"description": "Game system to filter by (e.g. dnd5e). Omit to search all systems.",
						},
					},
					"required": []string{"query"},
				},
				EstimatedDurationMs: 150,
				MaxDurationMs:       2000,
				Idempotent:          true,
				CacheableSeconds:    60,
			},
			Handler:     d.searchRulesHandler,
			DeclaredP50: 150,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_rule",
				Description: "Retrieve the full text of a specific rulebook passage by its citation id. Use search_rules first to discover ids.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "The chunk id returned by a prior search_rules call.",
						},
					},
					"required": []string{"id"},
				},
				EstimatedDurationMs: 20,
				MaxDurationMs:       500,
				Idempotent:          true,
				CacheableSeconds:    3600,
			},
			Handler:     d.getRuleHandler,
			DeclaredP50: 20,
			DeclaredMax: 500,
		},
	}
}
