package ingest

import (
	"strings"
	"testing"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

func TestChunker_ProtectedStatBlockNeverSplits(t *testing.T) {
	statBlock := "Owlbear\nLarge Monstrosity\nArmor Class 13\nHit Points 59 (7d10+21)\nSpeed 40 ft."
	pages := []storage.RawPage{{PageNumber: 5, Text: statBlock}}

	c := NewChunker(ChunkerConfig{})
	item := storage.LibraryItem{ID: "item"}
	chunks := c.Chunk(item, pages)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkType != "stat_block" {
		t.Errorf("expected chunk_type stat_block, got %q", chunks[0].ChunkType)
	}
	if !strings.Contains(chunks[0].Content, "Armor Class 13") {
		t.Errorf("stat block content missing from chunk: %q", chunks[0].Content)
	}
}

func TestChunker_ProseSplitsAtSentenceBoundaryBeyondMaxSize(t *testing.T) {
	sentence := "The dungeon stretches for miles beneath the keep. "
	var sb strings.Builder
	for sb.Len() < 5000 {
		sb.WriteString(sentence)
	}
	pages := []storage.RawPage{{PageNumber: 1, Text: sb.String()}}

	c := NewChunker(ChunkerConfig{TargetSize: 1500, MaxSize: 4000})
	item := storage.LibraryItem{ID: "item"}
	chunks := c.Chunk(item, pages)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks for %d chars of prose, got %d", sb.Len(), len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Content) > 4000 {
			t.Errorf("chunk exceeds max size: %d chars", len(ch.Content))
		}
		if !strings.HasSuffix(strings.TrimSpace(ch.Content), ".") {
			t.Errorf("chunk does not end on a sentence boundary: %q", lastN(ch.Content, 40))
		}
	}
}

func TestChunker_PageProvenanceSpansMultiplePages(t *testing.T) {
	pages := []storage.RawPage{
		{PageNumber: 10, Text: "The chamber is dark and smells of brimstone."},
		{PageNumber: 11, Text: "A faint light flickers from the far wall."},
	}

	c := NewChunker(ChunkerConfig{})
	item := storage.LibraryItem{ID: "item"}
	chunks := c.Chunk(item, pages)

	if len(chunks) != 1 {
		t.Fatalf("expected both pages to merge into 1 chunk, got %d", len(chunks))
	}
	if chunks[0].PageStart != 10 || chunks[0].PageEnd != 11 {
		t.Errorf("expected page range 10-11, got %d-%d", chunks[0].PageStart, chunks[0].PageEnd)
	}
}

func TestChunker_EmptyPagesProduceNoChunks(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	chunks := c.Chunk(storage.LibraryItem{ID: "item"}, nil)
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks, got %d", len(chunks))
	}
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
