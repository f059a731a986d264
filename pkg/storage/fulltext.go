package storage

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// fulltextDoc is the flattened document bleve indexes for one chunk. Bleve
// does not need the full Chunk shape — fulltext_search only ranks and
// highlights; the ranked ids are joined back against Postgres for the rest
// of the chunk payload.
type fulltextDoc struct {
	LibraryItemID string `json:"library_item_id"`
	ContentType   string `json:"content_type"`
	SectionTitle  string `json:"section_title"`
	ChapterTitle  string `json:"chapter_title"`
	Content       string `json:"content"`
}

// newFulltextIndex builds the in-process BM25 index. Content and titles are
// analyzed with the built-in English pipeline (lowercase, ASCII-folding,
// English stemming); content_type and library_item_id are kept as unanalyzed
// keyword fields so ChunkFilter can apply exact-match term queries alongside
// the scored match query.
func newFulltextIndex() (bleve.Index, error) {
	indexMapping := mapping.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()

	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("section_title", textField)
	docMapping.AddFieldMappingsAt("chapter_title", textField)

	keywordField := mapping.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("content_type", keywordField)
	docMapping.AddFieldMappingsAt("library_item_id", keywordField)

	indexMapping.DefaultMapping = docMapping

	return bleve.NewMemOnly(indexMapping)
}

// indexChunk inserts or replaces a chunk's fulltext document. Called from
// InsertChunksAtomic after the Postgres transaction commits, so the bleve
// index never holds a document for a chunk that doesn't exist in Postgres.
func (s *Store) indexChunk(c Chunk) error {
	doc := fulltextDoc{
		LibraryItemID: c.LibraryItemID,
		ContentType:   string(c.ContentType),
		SectionTitle:  c.SectionTitle,
		ChapterTitle:  c.ChapterTitle,
		Content:       c.Content,
	}
	return s.fulltext.Index(c.ID, doc)
}

// deleteChunkIndex removes a chunk's fulltext document.
func (s *Store) deleteChunkIndex(chunkID string) error {
	return s.fulltext.Delete(chunkID)
}

// FulltextSearch implements fulltext_search(query, filter?) -> Vec<SearchHit>,
// ranking by BM25 score and returning a highlight fragment per hit.
func (s *Store) FulltextSearch(ctx context.Context, q string, topK int, filter ChunkFilter) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}

	// The preprocessor hands us a structured lexical_query such as
	// "(hp OR health) AND potion" — a MatchQuery would analyze that whole
	// string as free text and silently drop the AND/OR/parenthesization.
	// bleve's query-string parser understands boolean operators, grouping,
	// and quoted phrases, so scope it to the content field via field:(...)
	// grouping rather than handing it the default _all field.
	textQuery := bleve.NewQueryStringQuery(fmt.Sprintf("content:(%s)", q))

	finalQuery := query.Query(textQuery)
	if conj := filterConjuncts(filter); len(conj) > 0 {
		conj = append([]query.Query{textQuery}, conj...)
		finalQuery = bleve.NewConjunctionQuery(conj...)
	}

	req := bleve.NewSearchRequest(finalQuery)
	req.Size = topK
	req.Fields = []string{"library_item_id", "content_type", "section_title", "chapter_title", "content"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("content")

	results, err := s.fulltext.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("storage: fulltext search: %w", err)
	}

	ids := make([]string, 0, len(results.Hits))
	scoreByID := make(map[string]float64, len(results.Hits))
	highlightByID := make(map[string]string, len(results.Hits))
	for _, hit := range results.Hits {
		ids = append(ids, hit.ID)
		scoreByID[hit.ID] = hit.Score
		if frags, ok := hit.Fragments["content"]; ok && len(frags) > 0 {
			highlightByID[hit.ID] = frags[0]
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := s.getChunksByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	// Hits keep bleve's BM25 order. Page bounds are not indexed in bleve, so
	// they are applied here, after ranking, and can leave fewer than topK hits.
	hits := make([]SearchHit, 0, len(chunks))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok || (filter.PageMin > 0 && c.PageNumber < filter.PageMin) || (filter.PageMax > 0 && c.PageNumber > filter.PageMax) {
			continue
		}
		hits = append(hits, SearchHit{
			Chunk:     c,
			Score:     scoreByID[c.ID],
			Highlight: highlightByID[c.ID],
		})
	}
	return hits, nil
}

// filterConjuncts translates a ChunkFilter's non-zero fields into bleve term
// queries, used both standalone and composed into a scored conjunction.
func filterConjuncts(filter ChunkFilter) []query.Query {
	var conj []query.Query
	if filter.ContentType != "" {
		tq := bleve.NewTermQuery(string(filter.ContentType))
		tq.SetField("content_type")
		conj = append(conj, tq)
	}
	if filter.LibraryItemID != "" {
		tq := bleve.NewTermQuery(filter.LibraryItemID)
		tq.SetField("library_item_id")
		conj = append(conj, tq)
	}
	return conj
}
