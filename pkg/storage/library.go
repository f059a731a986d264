package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// upsertLibraryItem run either standalone or as part of a caller's
// transaction (see InsertChunksAtomic).
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertLibraryItemSQL = `
	INSERT INTO library_items
	    (id, slug, title, file_path, content_category, game_system, status,
	     page_count, error_message, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())
	ON CONFLICT (id) DO UPDATE SET
	    slug             = EXCLUDED.slug,
	    title            = EXCLUDED.title,
	    file_path        = EXCLUDED.file_path,
	    content_category = EXCLUDED.content_category,
	    game_system      = EXCLUDED.game_system,
	    status           = EXCLUDED.status,
	    page_count       = EXCLUDED.page_count,
	    error_message    = EXCLUDED.error_message,
	    updated_at       = now()`

func upsertLibraryItem(ctx context.Context, db execer, item LibraryItem) error {
	_, err := db.Exec(ctx, upsertLibraryItemSQL,
		item.ID, item.Slug, item.Title, item.FilePath, item.ContentCategory,
		item.GameSystem, string(item.Status), item.PageCount, item.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert library item: %w", err)
	}
	return nil
}

// UpsertLibraryItem inserts or replaces a library item's metadata row. The
// ingestion pipeline calls this once at the start of extraction (status
// processing), again after the failure phase transition, and for the Ready
// transition of a document that yields no chunks; otherwise the transition to
// Ready is written by [Store.InsertChunksAtomic], in the same transaction as
// the chunk rows it accompanies.
func (s *Store) UpsertLibraryItem(ctx context.Context, item LibraryItem) error {
	return upsertLibraryItem(ctx, s.pool, item)
}

// GetLibraryItem fetches a single library item by its deterministic id.
func (s *Store) GetLibraryItem(ctx context.Context, id string) (LibraryItem, error) {
	const q = `
		SELECT id, slug, title, file_path, content_category, game_system, status,
		       page_count, error_message, created_at, updated_at
		FROM library_items WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	item, err := scanLibraryItemRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LibraryItem{}, ErrNotFound
	}
	if err != nil {
		return LibraryItem{}, fmt.Errorf("storage: get library item: %w", err)
	}
	return item, nil
}

// ListLibraryItems returns every library item, most recently created first.
func (s *Store) ListLibraryItems(ctx context.Context) ([]LibraryItem, error) {
	const q = `
		SELECT id, slug, title, file_path, content_category, game_system, status,
		       page_count, error_message, created_at, updated_at
		FROM library_items ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list library items: %w", err)
	}
	defer rows.Close()

	var items []LibraryItem
	for rows.Next() {
		item, err := scanLibraryItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list library items: scan: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteLibraryItem removes the library item, its raw pages (cascade), and
// its chunks (including their fulltext documents).
func (s *Store) DeleteLibraryItem(ctx context.Context, id string) error {
	if err := s.DeleteChunksByLibraryItem(ctx, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM library_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete library item: %w", err)
	}
	return nil
}

func scanLibraryItemRow(row pgx.Row) (LibraryItem, error) {
	var (
		item   LibraryItem
		status string
	)
	err := row.Scan(
		&item.ID, &item.Slug, &item.Title, &item.FilePath, &item.ContentCategory,
		&item.GameSystem, &status, &item.PageCount, &item.ErrorMessage,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return LibraryItem{}, err
	}
	item.Status = LibraryItemStatus(status)
	return item, nil
}

// InsertRawPages persists the phase-1 extraction output for a library item.
// Pages are retained after chunking for citation lookups against the
// original page text.
func (s *Store) InsertRawPages(ctx context.Context, pages []RawPage) error {
	if len(pages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: insert raw pages: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const q = `
		INSERT INTO raw_pages (library_item_id, page_number, text, layout_hints)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (library_item_id, page_number) DO UPDATE SET
		    text = EXCLUDED.text, layout_hints = EXCLUDED.layout_hints`

	for _, p := range pages {
		hints, err := marshalJSONMap(p.LayoutHints)
		if err != nil {
			return fmt.Errorf("storage: insert raw pages: marshal layout hints: %w", err)
		}
		if _, err := tx.Exec(ctx, q, p.LibraryItemID, p.PageNumber, p.Text, hints); err != nil {
			return fmt.Errorf("storage: insert raw pages: exec: %w", err)
		}
	}
	return tx.Commit(ctx)
}
