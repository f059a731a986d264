package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

type pdfExtractor struct {
	ocr OCREngine
}

// Extract walks every page of a PDF, extracting plain text in content-stream
// order. A page whose extracted character count falls below
// [minCharDensity] is assumed to be a scan, and the configured OCR engine is
// called for it with a nil image: this extractor does not render pages to
// images. If OCR also comes back empty the page is still recorded (with
// whatever text, possibly none, was recoverable) so a single bad page never
// fails the whole document.
func (e *pdfExtractor) Extract(ctx context.Context, path string) ([]storage.RawPage, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages := make([]storage.RawPage, 0, total)

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single malformed page must not abort the whole document; it
			// is recorded empty and left for OCR below.
			text = ""
		}
		text = strings.TrimSpace(text)

		hints := map[string]any{"char_count": len(text), "native": true}

		if len(text) < minCharDensity && e.ocr != nil {
			recognized, ocrErr := e.ocr.RecognizeText(ctx, nil)
			if ocrErr == nil && strings.TrimSpace(recognized) != "" {
				text = strings.TrimSpace(recognized)
				hints["native"] = false
				hints["ocr"] = true
			}
		}

		pages = append(pages, storage.RawPage{PageNumber: i, Text: text, LayoutHints: hints})
	}

	return pages, nil
}
