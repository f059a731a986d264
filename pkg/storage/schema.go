package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Library items + raw pages
// ─────────────────────────────────────────────────────────────────────────────

const ddlLibraryItems = `
CREATE TABLE IF NOT EXISTS library_items (
    id               TEXT         PRIMARY KEY,
    slug             TEXT         NOT NULL UNIQUE,
    title            TEXT         NOT NULL,
    file_path        TEXT         NOT NULL,
    content_category TEXT         NOT NULL DEFAULT '',
    game_system      TEXT         NOT NULL DEFAULT '',
    status           TEXT         NOT NULL DEFAULT 'pending',
    page_count       INT          NOT NULL DEFAULT 0,
    error_message    TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_library_items_status ON library_items (status);

CREATE TABLE IF NOT EXISTS raw_pages (
    library_item_id TEXT    NOT NULL REFERENCES library_items (id) ON DELETE CASCADE,
    page_number      INT     NOT NULL,
    text             TEXT    NOT NULL,
    layout_hints     JSONB   NOT NULL DEFAULT '{}',
    PRIMARY KEY (library_item_id, page_number)
);
`

// ddlChunks returns the chunk-table DDL with the embedding dimension baked
// into the vector column type, and an HNSW cosine index per §4.1's schema
// invariants (ef_construction ~150, M ~12).
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    id                TEXT         PRIMARY KEY,
    library_item_id   TEXT         NOT NULL REFERENCES library_items (id) ON DELETE CASCADE,
    content           TEXT         NOT NULL,
    embedding         vector(%d),
    content_type      TEXT         NOT NULL DEFAULT '',
    page_number       INT          NOT NULL DEFAULT 0,
    page_start        INT          NOT NULL DEFAULT 0,
    page_end          INT          NOT NULL DEFAULT 0,
    chunk_index       INT          NOT NULL DEFAULT 0,
    section_path      TEXT         NOT NULL DEFAULT '',
    chapter_title     TEXT         NOT NULL DEFAULT '',
    section_title     TEXT         NOT NULL DEFAULT '',
    chunk_type        TEXT         NOT NULL DEFAULT '',
    semantic_keywords TEXT[]       NOT NULL DEFAULT '{}',
    embedding_model   TEXT         NOT NULL DEFAULT '',
    metadata          JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_library_item ON chunks (library_item_id);
CREATE INDEX IF NOT EXISTS idx_chunks_content_type ON chunks (content_type);
CREATE INDEX IF NOT EXISTS idx_chunks_page_number ON chunks (page_number);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops)
    WITH (ef_construction = 150, m = 12);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Campaign-facing entities (generic table, dispatched over by Type)
// ─────────────────────────────────────────────────────────────────────────────

const ddlEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id          TEXT         PRIMARY KEY,
    type        TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities (name);

CREATE TABLE IF NOT EXISTS relationships (
    source_id   TEXT         NOT NULL,
    target_id   TEXT         NOT NULL,
    rel_type    TEXT         NOT NULL,
    strength    DOUBLE PRECISION NOT NULL DEFAULT 0,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships (source_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships (target_id);
CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships (rel_type);
`

// ─────────────────────────────────────────────────────────────────────────────
// Chat + router bookkeeping
// ─────────────────────────────────────────────────────────────────────────────

const ddlChatAndUsage = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    campaign_id TEXT         NOT NULL DEFAULT '',
    npc_id      TEXT         NOT NULL DEFAULT '',
    sources     TEXT[]       NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    archived    BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id);

CREATE TABLE IF NOT EXISTS usage_records (
    id            BIGSERIAL    PRIMARY KEY,
    provider_id   TEXT         NOT NULL,
    model         TEXT         NOT NULL,
    input_tokens  INT          NOT NULL,
    output_tokens INT          NOT NULL,
    cost_usd      DOUBLE PRECISION NOT NULL,
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records (timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records (provider_id);
`

// Migrate creates or ensures all required tables, extensions, and indexes
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the active embedding model's fixed
// dimension (e.g., 1536 for OpenAI text-embedding-3-small). Switching models
// after the first migration does not alter the column, and existing chunks
// keep the embeddings they were stored with.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlLibraryItems,
		ddlChunks(embeddingDimensions),
		ddlEntities,
		ddlChatAndUsage,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage migrate: %w", err)
		}
	}
	return nil
}
