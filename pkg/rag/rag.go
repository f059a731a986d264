// Package rag implements the RAG Orchestrator: it composes a generation
// request from a user question, retrieved rulebook context, and chat
// history, then calls the LLM Router and returns the response alongside the
// sources the model was shown.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inkbound-tabletop/inkbound-core/pkg/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/preprocess"
	"github.com/inkbound-tabletop/inkbound-core/pkg/provider/llm"
	"github.com/inkbound-tabletop/inkbound-core/pkg/router"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
	"github.com/inkbound-tabletop/inkbound-core/pkg/types"
)

// ErrEmbeddingUnavailable is returned when the embedding service cannot
// produce a vector for the question, per the orchestrator's "RAG cannot
// proceed" failure mode.
var ErrEmbeddingUnavailable = errors.New("rag: embedding unavailable")

const noCoverageMarker = "No rulebook passages matched this question. State plainly that no rulebook coverage was found before answering from general knowledge, if at all."

// Source is one citation surfaced alongside a generated answer. Its position
// in the returned slice matches the "[N]" numbering rendered into the
// system prompt — sources[0] is "[1]", sources[1] is "[2]", and so on.
type Source struct {
	ChunkID        string
	Title          string
	PageStart      int
	PageEnd        int
	RelevanceScore float64
}

// Request carries everything needed to answer one question.
type Request struct {
	Question       string
	SessionID      string
	History        []types.Message
	Filter         storage.ChunkFilter
	PersonaPrompt  string
	PinnedProvider string
	Stream         bool
}

// Response is the result of a non-streaming [Orchestrator.Answer] call.
type Response struct {
	Answer  string
	Sources []Source
}

// Config tunes context assembly limits.
type Config struct {
	// MaxContextChunks caps how many ranked chunks are included. Default 8.
	MaxContextChunks int
	// MaxContextBytes caps the total rendered context size. Default 4000.
	MaxContextBytes int
	// Search tunes the underlying hybrid search call.
	Search storage.HybridSearchConfig
}

func (c Config) withDefaults() Config {
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = 8
	}
	if c.MaxContextBytes <= 0 {
		c.MaxContextBytes = 4000
	}
	return c
}

// Orchestrator wires the embedding service, query preprocessor, storage
// search, and router together into the RAG pipeline.
type Orchestrator struct {
	store        *storage.Store
	embedder     *embeddings.Service
	preprocessor *preprocess.Preprocessor
	router       *router.Router
	cfg          Config
}

// New builds an [Orchestrator].
func New(store *storage.Store, embedder *embeddings.Service, preprocessor *preprocess.Preprocessor, r *router.Router, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:        store,
		embedder:     embedder,
		preprocessor: preprocessor,
		router:       r,
		cfg:          cfg.withDefaults(),
	}
}

// Answer runs the full non-streaming pipeline: embed, preprocess, search,
// assemble context, call the router, and return the answer with its
// sources.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	prompt, sources, err := o.buildPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	messages := append(append([]types.Message(nil), req.History...), types.Message{
		Role:    "user",
		Content: req.Question,
	})

	resp, err := o.router.Chat(ctx, router.ChatRequest{
		CompletionRequest: llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: prompt,
		},
		PinnedProvider: req.PinnedProvider,
		EnableFallback: true,
	})
	if err != nil {
		return nil, err
	}

	return &Response{Answer: resp.Content, Sources: sources}, nil
}

// StreamAnswer runs the same pipeline as Answer but returns a streaming
// handle. The caller is responsible for emitting a terminal message with
// the sources list once the stream completes — sources are returned
// immediately since citation numbering is fixed before the model is called.
func (o *Orchestrator) StreamAnswer(ctx context.Context, req Request) (*router.StreamHandle, []Source, error) {
	prompt, sources, err := o.buildPrompt(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	messages := append(append([]types.Message(nil), req.History...), types.Message{
		Role:    "user",
		Content: req.Question,
	})

	handle, err := o.router.StreamChat(ctx, router.ChatRequest{
		CompletionRequest: llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: prompt,
		},
		PinnedProvider: req.PinnedProvider,
		EnableFallback: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return handle, sources, nil
}

// buildPrompt runs steps 1-5 of the orchestrator: embed, preprocess, search,
// assemble context, build the system prompt.
func (o *Orchestrator) buildPrompt(ctx context.Context, req Request) (string, []Source, error) {
	vector, err := o.embedder.Get(ctx, req.Question)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	result := o.preprocessor.Process(req.Question)

	hits, err := o.store.HybridSearch(ctx, result.LexicalQuery, vector, o.cfg.Search, req.Filter)
	if err != nil {
		return "", nil, fmt.Errorf("rag: search: %w", err)
	}

	return o.assemblePrompt(ctx, req.PersonaPrompt, hits)
}

// assemblePrompt renders the chosen hits into the citation-numbered context
// block and wraps it with the fixed instruction header and optional
// persona fragment.
func (o *Orchestrator) assemblePrompt(ctx context.Context, persona string, hits []storage.SearchHit) (string, []Source, error) {
	chosen, renderedContext := renderContext(hits, o.cfg.MaxContextChunks, o.cfg.MaxContextBytes, o.titleFor(ctx))
	return buildSystemPrompt(renderedContext, chosen, persona), chosen, nil
}

const systemInstructionHeader = "You are a tabletop RPG rules and lore assistant. Answer using the numbered rulebook excerpts below when they are relevant, citing them as [N]. Do not invent rules that contradict the excerpts."

// buildSystemPrompt wraps the rendered context (or the no-coverage marker
// when chosen is empty) with the fixed instruction header and an optional
// persona fragment.
func buildSystemPrompt(renderedContext string, chosen []Source, persona string) string {
	var sb strings.Builder
	sb.WriteString(systemInstructionHeader)

	sb.WriteString("\n\n")
	if len(chosen) == 0 {
		sb.WriteString(noCoverageMarker)
	} else {
		sb.WriteString(renderedContext)
	}

	if p := strings.TrimSpace(persona); p != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p)
	}

	return sb.String()
}

// titleFor returns a per-request library-item-id -> slug resolver backed by
// the store, falling back to the raw id on lookup failure.
func (o *Orchestrator) titleFor(ctx context.Context) func(string) string {
	cache := make(map[string]string)
	return func(libraryItemID string) string {
		if title, ok := cache[libraryItemID]; ok {
			return title
		}
		title := libraryItemID
		if item, err := o.store.GetLibraryItem(ctx, libraryItemID); err == nil {
			title = item.Slug
		}
		cache[libraryItemID] = title
		return title
	}
}

// renderContext walks hits in rank order, stopping at maxChunks or
// maxBytes, whichever binds first, and renders each kept chunk as
// "[N] <slug> (p.<range>)\n<content>\n\n". It takes a title resolver rather
// than a store directly so the rendering logic can be tested without a
// database.
func renderContext(hits []storage.SearchHit, maxChunks, maxBytes int, titleFor func(string) string) ([]Source, string) {
	var sb strings.Builder
	var sources []Source

	for _, hit := range hits {
		if len(sources) >= maxChunks {
			break
		}

		title := titleFor(hit.Chunk.LibraryItemID)
		rendered := fmt.Sprintf("[%d] %s (p.%d-%d)\n%s\n\n", len(sources)+1, title, hit.Chunk.PageStart, hit.Chunk.PageEnd, hit.Chunk.Content)
		if sb.Len()+len(rendered) > maxBytes && sb.Len() > 0 {
			break
		}

		sb.WriteString(rendered)
		sources = append(sources, Source{
			ChunkID:        hit.Chunk.ID,
			Title:          title,
			PageStart:      hit.Chunk.PageStart,
			PageEnd:        hit.Chunk.PageEnd,
			RelevanceScore: hit.Score,
		})
	}

	return sources, sb.String()
}
