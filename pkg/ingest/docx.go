package ingest

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

type docxExtractor struct{}

type docxRun struct {
	Text []string `xml:"t"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

// Extract reads word/document.xml and concatenates every run's text,
// paragraph by paragraph. DOCX carries no fixed page boundaries in the XML
// (pagination is a rendering concern), so the whole document extracts as a
// single RawPage; the chunker's own section/size splitting takes over from
// there.
func (docxExtractor) Extract(ctx context.Context, filePath string) ([]storage.RawPage, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("ingest: open docx: %w", err)
	}
	defer zr.Close()

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("ingest: docx missing word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("ingest: open document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("ingest: read document.xml: %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ingest: parse document.xml: %w", err)
	}

	var sb strings.Builder
	for _, p := range doc.Body.Paragraphs {
		for _, r := range p.Runs {
			for _, t := range r.Text {
				sb.WriteString(t)
			}
		}
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	return []storage.RawPage{{PageNumber: 1, Text: text, LayoutHints: map[string]any{"source": "docx"}}}, nil
}
