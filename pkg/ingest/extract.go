// Package ingest implements the two-phase Ingestion Pipeline: extraction of
// a source document into page-provenanced raw text, and chunking of that
// text into embedded, citation-ready retrieval units.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// minCharDensity is the character-count-per-page floor below which a page is
// considered sparse text and routed to OCR. A scanned page that extracted
// cleanly typically yields several hundred characters; a bare image page
// yields none or a handful of stray glyphs.
const minCharDensity = 40

// Extractor turns one source file into a sequence of raw pages. Every
// extractor is expected to call the OCR engine itself for pages it judges
// sparse, so phase 1 never special-cases extractor type after dispatch.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]storage.RawPage, error)
}

// ExtractorFor dispatches on file extension. Non-goals (audio transcripts,
// images) are not recognized here; callers that need those feed RawPage
// directly and skip extraction.
func ExtractorFor(path string, ocr OCREngine) (Extractor, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return &pdfExtractor{ocr: ocr}, nil
	case ".epub":
		return &epubExtractor{}, nil
	case ".docx":
		return &docxExtractor{}, nil
	case ".txt", ".md":
		return &textExtractor{}, nil
	default:
		return nil, fmt.Errorf("ingest: unsupported file extension %q", ext)
	}
}
