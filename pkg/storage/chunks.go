package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

const chunkColumns = `id, library_item_id, content, embedding, content_type, page_number,
	       page_start, page_end, chunk_index, section_path, chapter_title,
	       section_title, chunk_type, semantic_keywords, embedding_model, metadata`

// InsertChunksAtomic implements insert_chunks_atomic(chunks) -> Result<(), Error>.
// All chunks for one library item, plus that item's status flip to Ready,
// are written within a single Postgres transaction: either the whole batch
// (rows and status) lands or none of it does. Folding readyItem's upsert
// into the same transaction as the chunk rows is what makes this atomic —
// writing them as two separate statements (even back to back) would leave a
// window where a crash commits fully-indexed chunks but never flips the
// item off Processing.
//
// The bleve fulltext index is updated only after the transaction commits;
// it is an in-process index only, so [Store.RebuildFulltextIndex] must be
// called once at startup to recover it after a restart.
func (s *Store) InsertChunksAtomic(ctx context.Context, chunks []Chunk, readyItem LibraryItem) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: insert chunks: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := fmt.Sprintf(`
		INSERT INTO chunks (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
		    content           = EXCLUDED.content,
		    embedding         = EXCLUDED.embedding,
		    content_type      = EXCLUDED.content_type,
		    page_number       = EXCLUDED.page_number,
		    page_start        = EXCLUDED.page_start,
		    page_end          = EXCLUDED.page_end,
		    chunk_index       = EXCLUDED.chunk_index,
		    section_path      = EXCLUDED.section_path,
		    chapter_title     = EXCLUDED.chapter_title,
		    section_title     = EXCLUDED.section_title,
		    chunk_type        = EXCLUDED.chunk_type,
		    semantic_keywords = EXCLUDED.semantic_keywords,
		    embedding_model   = EXCLUDED.embedding_model,
		    metadata          = EXCLUDED.metadata`, chunkColumns)

	for _, c := range chunks {
		metadata, merr := json.Marshal(c.Metadata)
		if merr != nil {
			return fmt.Errorf("storage: insert chunks: marshal metadata: %w", merr)
		}

		var vec any
		if c.Embedding != nil {
			vec = pgvector.NewVector(c.Embedding)
		}

		_, err = tx.Exec(ctx, q,
			c.ID, c.LibraryItemID, c.Content, vec, string(c.ContentType), c.PageNumber,
			c.PageStart, c.PageEnd, c.ChunkIndex, c.SectionPath, c.ChapterTitle,
			c.SectionTitle, c.ChunkType, c.SemanticKeywords, c.EmbeddingModel, metadata,
		)
		if err != nil {
			return fmt.Errorf("storage: insert chunks: exec: %w", err)
		}
	}

	if err := upsertLibraryItem(ctx, tx, readyItem); err != nil {
		return fmt.Errorf("storage: insert chunks: update library item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: insert chunks: commit: %w", err)
	}

	for _, c := range chunks {
		if err := s.indexChunk(c); err != nil {
			return fmt.Errorf("storage: insert chunks: fulltext index: %w", err)
		}
	}
	return nil
}

// DeleteChunksByLibraryItem removes every chunk belonging to libraryItemID,
// from both Postgres and the fulltext index. Used when a library item is
// re-ingested or removed from the library.
func (s *Store) DeleteChunksByLibraryItem(ctx context.Context, libraryItemID string) error {
	rows, err := s.pool.Query(ctx, `SELECT id FROM chunks WHERE library_item_id = $1`, libraryItemID)
	if err != nil {
		return fmt.Errorf("storage: delete chunks: query ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("storage: delete chunks: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: delete chunks: rows: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE library_item_id = $1`, libraryItemID); err != nil {
		return fmt.Errorf("storage: delete chunks: exec: %w", err)
	}

	for _, id := range ids {
		if err := s.deleteChunkIndex(id); err != nil {
			return fmt.Errorf("storage: delete chunks: fulltext index: %w", err)
		}
	}
	return nil
}

// ErrChunkNotFound is returned by GetChunk when no chunk exists with the
// given id.
var ErrChunkNotFound = errors.New("storage: chunk not found")

// GetChunk fetches a single chunk by id, e.g. for a "get full passage by
// citation id" lookup following a search result.
func (s *Store) GetChunk(ctx context.Context, id string) (Chunk, error) {
	chunks, err := s.getChunksByID(ctx, []string{id})
	if err != nil {
		return Chunk{}, err
	}
	if len(chunks) == 0 {
		return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return chunks[0], nil
}

// getChunksByID fetches the full row for each chunk id, used to hydrate
// bleve/pgvector search hits (which only carry ids and scores) back into
// complete Chunk values. Order of the input ids is not preserved; callers
// re-associate by ID.
func (s *Store) getChunksByID(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	q := fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, chunkColumns, strings.Join(placeholders, ","))
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get chunks by id: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunkRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get chunks by id: scan: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// scanChunkRow decodes one row matching chunkColumns' order into a Chunk.
// The embedding column is nullable (chunks awaiting the Embedding Service),
// so it is scanned into a pointer that may come back nil.
func scanChunkRow(row pgx.Row) (Chunk, error) {
	var (
		c       Chunk
		vec     *pgvector.Vector
		rawMeta []byte
	)

	err := row.Scan(
		&c.ID, &c.LibraryItemID, &c.Content, &vec, &c.ContentType, &c.PageNumber,
		&c.PageStart, &c.PageEnd, &c.ChunkIndex, &c.SectionPath, &c.ChapterTitle,
		&c.SectionTitle, &c.ChunkType, &c.SemanticKeywords, &c.EmbeddingModel, &rawMeta,
	)
	if err != nil {
		return Chunk{}, err
	}
	if vec != nil {
		c.Embedding = vec.Slice()
	}

	if len(rawMeta) > 0 {
		if err := unmarshalMetadata(rawMeta, &c.Metadata); err != nil {
			return Chunk{}, err
		}
	}
	return c, nil
}

// unmarshalMetadata decodes a JSONB metadata column into a map, used by both
// the row-scanning path here and in semantic.go's distance-augmented scan.
func unmarshalMetadata(raw []byte, dst *map[string]any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}
