package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// VectorSearch implements vector_search(embedding, topK, filter?) ->
// Vec<SearchHit>, returning the topK chunks whose embeddings are closest by
// cosine distance to the supplied query vector. Score is reported as
// (1 - distance), so a higher score is always a better match, matching
// fulltext_search's score direction for hybrid_search's fusion step.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}

	queryVec := pgvector.NewVector(embedding)
	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	conditions = append(conditions, "embedding IS NOT NULL")
	if filter.ContentType != "" {
		conditions = append(conditions, "content_type = "+next(string(filter.ContentType)))
	}
	if filter.LibraryItemID != "" {
		conditions = append(conditions, "library_item_id = "+next(filter.LibraryItemID))
	}
	if filter.PageMin > 0 {
		conditions = append(conditions, "page_number >= "+next(filter.PageMin))
	}
	if filter.PageMax > 0 {
		conditions = append(conditions, "page_number <= "+next(filter.PageMax))
	}

	whereClause := "WHERE " + strings.Join(conditions, "\n  AND ")

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s, embedding <=> $1 AS distance
		FROM   chunks
		%s
		ORDER  BY distance
		LIMIT  %s`, chunkColumns, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: vector search: %w", err)
	}
	defer rows.Close()

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchHit, error) {
		c, err := scanChunkRowWithTrailingDistance(row)
		if err != nil {
			return SearchHit{}, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: vector search: scan: %w", err)
	}
	return hits, nil
}

// scanChunkRowWithTrailingDistance scans a row that has the chunkColumns
// followed by one extra "distance" column, as produced by VectorSearch's
// query. Score is derived as 1 - distance (cosine distance is in [0, 2], but
// for normalized embeddings practically in [0, 2] with 0 = identical).
func scanChunkRowWithTrailingDistance(row pgx.CollectableRow) (SearchHit, error) {
	var (
		c        Chunk
		vec      *pgvector.Vector
		rawMeta  []byte
		distance float64
	)

	err := row.Scan(
		&c.ID, &c.LibraryItemID, &c.Content, &vec, &c.ContentType, &c.PageNumber,
		&c.PageStart, &c.PageEnd, &c.ChunkIndex, &c.SectionPath, &c.ChapterTitle,
		&c.SectionTitle, &c.ChunkType, &c.SemanticKeywords, &c.EmbeddingModel, &rawMeta,
		&distance,
	)
	if err != nil {
		return SearchHit{}, err
	}
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	if len(rawMeta) > 0 {
		if err := unmarshalMetadata(rawMeta, &c.Metadata); err != nil {
			return SearchHit{}, err
		}
	}

	return SearchHit{Chunk: c, Score: 1 - distance}, nil
}
