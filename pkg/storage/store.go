package storage

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store is the Storage Core: a single PostgreSQL/pgvector connection pool
// paired with an in-process bleve BM25 index. It exposes the operations
// named by the data model — upsert_entity, insert_chunks_atomic,
// fulltext_search, vector_search, hybrid_search, graph_traverse — as methods,
// rather than one method per table.
//
// All methods are safe for concurrent use. Each write path updates the bleve
// index only after its Postgres statements have succeeded; of these, only
// InsertChunksAtomic runs its statements in a pgx transaction.
type Store struct {
	pool     *pgxpool.Pool
	fulltext bleve.Index
}

// Config controls how a [Store] connects and indexes.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// EmbeddingDimensions must match the active embedding model's output
	// dimension (e.g. 1536 for OpenAI text-embedding-3-small). Changing the
	// active model after the first migration does not resize the column;
	// existing chunks must be re-embedded rather than having their schema
	// altered in place.
	EmbeddingDimensions int
}

// NewStore connects to Postgres, registers pgvector's wire types on every
// connection, runs [Migrate], and builds an empty in-process bleve index.
//
// Chunks already present in Postgres are not automatically reloaded into the
// fresh bleve index — callers that restart the process against an existing
// database must call [Store.RebuildFulltextIndex] once during startup.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}

	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	if err := Migrate(ctx, pool, cfg.EmbeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	index, err := newFulltextIndex()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: build fulltext index: %w", err)
	}

	return &Store{pool: pool, fulltext: index}, nil
}

// RebuildFulltextIndex re-populates the in-process bleve index from every
// chunk currently stored in Postgres. Callers should run this once at
// startup when restoring a process against a database that already has
// ingested content, since the bleve index itself is never persisted to disk.
func (s *Store) RebuildFulltextIndex(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, library_item_id, content, content_type, page_number, page_start,
		       page_end, chunk_index, section_path, chapter_title, section_title,
		       chunk_type, semantic_keywords, embedding_model, metadata
		FROM chunks`)
	if err != nil {
		return fmt.Errorf("storage: rebuild index query: %w", err)
	}
	defer rows.Close()

	batch := s.fulltext.NewBatch()
	for rows.Next() {
		c, scanErr := scanChunkRow(rows)
		if scanErr != nil {
			return fmt.Errorf("storage: rebuild index scan: %w", scanErr)
		}
		doc := fulltextDoc{
			LibraryItemID: c.LibraryItemID,
			ContentType:   string(c.ContentType),
			SectionTitle:  c.SectionTitle,
			ChapterTitle:  c.ChapterTitle,
			Content:       c.Content,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("storage: rebuild index batch: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: rebuild index rows: %w", err)
	}
	return s.fulltext.Batch(batch)
}

// Close releases the connection pool and the fulltext index.
func (s *Store) Close() {
	_ = s.fulltext.Close()
	s.pool.Close()
}
