package ingest

import "context"

// OCREngine recognizes text from a page image. No OCR library appears
// anywhere in the retrieval pack, so this is a pluggable extension point
// rather than a concrete vendored engine: callers running against scanned
// source material supply their own implementation.
type OCREngine interface {
	// RecognizeText returns the best-effort text for one rendered page image.
	RecognizeText(ctx context.Context, image []byte) (string, error)
}

// noopOCR is the default OCREngine: it performs no recognition and reports
// the page as unrecoverable, matching the documented stub behavior for a
// system with no OCR engine configured.
type noopOCR struct{}

// NoOCR returns an [OCREngine] that never recovers sparse-text pages. Use it
// when no OCR backend is configured; sparse pages are still extracted with
// whatever native text was found, just not supplemented.
func NoOCR() OCREngine { return noopOCR{} }

func (noopOCR) RecognizeText(ctx context.Context, image []byte) (string, error) {
	return "", nil
}
