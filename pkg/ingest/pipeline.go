package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/inkbound-tabletop/inkbound-core/pkg/embeddings"
	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

const defaultEmbedBatchSize = 64

// ProgressEvent reports ingestion progress for one library item, per phase
// 1's "emits progress events" requirement.
type ProgressEvent struct {
	LibraryItemID string
	Phase         string // "extract", "chunk_embed", "ready", "failed"
	PagesDone     int
	TotalPages    int
	ChunksDone    int
	TotalChunks   int
}

// Metadata is the caller-supplied, non-derivable part of a [storage.LibraryItem].
type Metadata struct {
	Slug            string
	Title           string
	ContentCategory string
	GameSystem      string
}

// Pipeline drives the two-phase ingestion pipeline: extraction into raw
// pages, then TTRPG-aware chunking and batch embedding, with every
// LibraryItem.status transition persisted as it happens.
type Pipeline struct {
	store          *storage.Store
	embedder       *embeddings.Service
	chunker        *Chunker
	ocr            OCREngine
	embedBatchSize int
	onProgress     func(ProgressEvent)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithOCR plugs in an OCR engine for sparse-text page recovery. Defaults to
// [NoOCR].
func WithOCR(e OCREngine) Option { return func(p *Pipeline) { p.ocr = e } }

// WithChunkerConfig overrides the semantic chunker's size limits.
func WithChunkerConfig(cfg ChunkerConfig) Option {
	return func(p *Pipeline) { p.chunker = NewChunker(cfg) }
}

// WithEmbedBatchSize overrides how many chunks are embedded per provider
// call. Defaults to 64.
func WithEmbedBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.embedBatchSize = n
		}
	}
}

// WithProgress registers a callback invoked at each phase transition.
func WithProgress(fn func(ProgressEvent)) Option { return func(p *Pipeline) { p.onProgress = fn } }

// NewPipeline builds a [Pipeline] backed by store for persistence and
// embedder for phase 2's batch embedding.
func NewPipeline(store *storage.Store, embedder *embeddings.Service, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          store,
		embedder:       embedder,
		chunker:        NewChunker(ChunkerConfig{}),
		ocr:            NoOCR(),
		embedBatchSize: defaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest runs both phases for one source file. LibraryItem.id is
// deterministic (stable_hash of the canonical path), so re-ingesting the
// same path reuses the same id and deletes the item's existing chunks
// before inserting the new ones — external references to that id survive.
func (p *Pipeline) Ingest(ctx context.Context, filePath string, meta Metadata) (storage.LibraryItem, error) {
	id, err := StableID(filePath)
	if err != nil {
		return storage.LibraryItem{}, fmt.Errorf("ingest: compute id: %w", err)
	}

	item := storage.LibraryItem{
		ID:              id,
		Slug:            meta.Slug,
		Title:           meta.Title,
		FilePath:        filePath,
		ContentCategory: meta.ContentCategory,
		GameSystem:      meta.GameSystem,
		Status:          storage.StatusProcessing,
	}
	if err := p.store.UpsertLibraryItem(ctx, item); err != nil {
		return item, fmt.Errorf("ingest: register library item: %w", err)
	}

	p.emit(ProgressEvent{LibraryItemID: item.ID, Phase: "extract"})

	extractor, err := ExtractorFor(filePath, p.ocr)
	if err != nil {
		return p.fail(ctx, item, err)
	}

	pages, err := extractor.Extract(ctx, filePath)
	if err != nil {
		return p.fail(ctx, item, fmt.Errorf("extract: %w", err))
	}
	item.PageCount = len(pages)

	for i := range pages {
		pages[i].LibraryItemID = item.ID
	}
	if err := p.store.InsertRawPages(ctx, pages); err != nil {
		return p.fail(ctx, item, fmt.Errorf("persist raw pages: %w", err))
	}

	// Re-ingest semantics: drop this item's existing chunks before the new
	// batch is inserted, inside phase 2's own atomic insert.
	if err := p.store.DeleteChunksByLibraryItem(ctx, item.ID); err != nil {
		return p.fail(ctx, item, fmt.Errorf("clear prior chunks: %w", err))
	}

	p.emit(ProgressEvent{LibraryItemID: item.ID, Phase: "chunk_embed", TotalPages: len(pages)})

	chunks := p.chunker.Chunk(item, pages)
	if len(chunks) == 0 {
		item.Status = storage.StatusReady
		if err := p.store.UpsertLibraryItem(ctx, item); err != nil {
			return item, err
		}
		p.emit(ProgressEvent{LibraryItemID: item.ID, Phase: "ready"})
		return item, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, embedErr := p.embedBatched(ctx, texts)
	if embedErr != nil {
		// Embedding failure is not a phase-2 transaction failure: chunks are
		// still inserted unembedded (lexically searchable) and the item is
		// flagged for a background re-embed rather than marked Failed.
		slog.Warn("ingest: embedding failed, inserting chunks without vectors",
			"library_item_id", item.ID, "error", embedErr)
	} else {
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	}

	readyItem := item
	readyItem.Status = storage.StatusReady
	if embedErr != nil {
		readyItem.ErrorMessage = "embedding incomplete, pending background re-embed: " + embedErr.Error()
	}

	if err := p.store.InsertChunksAtomic(ctx, chunks, readyItem); err != nil {
		// Transaction failure leaves status at Processing (item, not
		// readyItem, is returned); a retry is expected rather than
		// surfacing Failed, since nothing was lost.
		return item, fmt.Errorf("ingest: insert chunks: %w", err)
	}

	p.emit(ProgressEvent{LibraryItemID: item.ID, Phase: "ready", TotalChunks: len(chunks), ChunksDone: len(chunks)})
	return readyItem, nil
}

func (p *Pipeline) fail(ctx context.Context, item storage.LibraryItem, cause error) (storage.LibraryItem, error) {
	item.Status = storage.StatusFailed
	item.ErrorMessage = cause.Error()
	if err := p.store.UpsertLibraryItem(ctx, item); err != nil {
		slog.Error("ingest: failed to persist failure status", "library_item_id", item.ID, "error", err)
	}
	p.emit(ProgressEvent{LibraryItemID: item.ID, Phase: "failed"})
	return item, cause
}

func (p *Pipeline) emit(ev ProgressEvent) {
	if p.onProgress != nil {
		p.onProgress(ev)
	}
}

// embedBatched splits texts into embedBatchSize-sized groups and embeds each
// group concurrently, preserving input order in the result.
func (p *Pipeline) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embedder == nil {
		return nil, fmt.Errorf("ingest: no embedding provider configured")
	}

	results := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)

	for start := 0; start < len(texts); start += p.embedBatchSize {
		start := start
		end := min(start+p.embedBatchSize, len(texts))
		eg.Go(func() error {
			vecs, err := p.embedder.GetBatch(egCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
