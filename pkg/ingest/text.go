package ingest

import (
	"context"
	"os"
	"strings"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

type textExtractor struct{}

// Extract passes plain text (and Markdown) through unmodified as a single
// page — there is no pagination concept to preserve.
func (textExtractor) Extract(ctx context.Context, path string) ([]storage.RawPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []storage.RawPage{{
		PageNumber: 1,
		Text:       strings.TrimSpace(string(data)),
	}}, nil
}
