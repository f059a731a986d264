package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractorFor_Dispatch(t *testing.T) {
	cases := map[string]bool{
		"book.pdf":  true,
		"book.epub": true,
		"book.docx": true,
		"book.txt":  true,
		"book.md":   true,
		"book.xyz":  false,
	}
	for name, wantOK := range cases {
		_, err := ExtractorFor(name, NoOCR())
		if (err == nil) != wantOK {
			t.Errorf("ExtractorFor(%q): err = %v, want ok=%v", name, err, wantOK)
		}
	}
}

func TestTextExtractor_PassesThroughVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("  Session 4 recap.  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := textExtractor{}
	pages, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Text != "Session 4 recap." {
		t.Errorf("unexpected text: %q", pages[0].Text)
	}
}

func TestDocxExtractor_ReadsRunsFromDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handout.docx")

	docXML := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>The keep sits atop a sunken ruin.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	if err := writeZip(path, map[string]string{"word/document.xml": docXML}); err != nil {
		t.Fatal(err)
	}

	e := docxExtractor{}
	pages, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].Text != "The keep sits atop a sunken ruin." {
		t.Errorf("unexpected extraction result: %+v", pages)
	}
}

func TestEpubExtractor_WalksSpineInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")

	container := `<?xml version="1.0"?>
<container><rootfiles><rootfile full-path="OEBPS/content.opf"/></rootfiles></container>`
	opf := `<?xml version="1.0"?>
<package>
  <manifest>
    <item id="ch1" href="ch1.xhtml"/>
    <item id="ch2" href="ch2.xhtml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

	if err := writeZip(path, map[string]string{
		"META-INF/container.xml": container,
		"OEBPS/content.opf":      opf,
		"OEBPS/ch1.xhtml":        "<html><body><p>Chapter one begins.</p></body></html>",
		"OEBPS/ch2.xhtml":        "<html><body><p>Chapter two continues.</p></body></html>",
	}); err != nil {
		t.Fatal(err)
	}

	e := epubExtractor{}
	pages, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Text != "Chapter one begins." || pages[1].Text != "Chapter two continues." {
		t.Errorf("unexpected pages: %+v", pages)
	}
}

func writeZip(path string, files map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(content)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	_, err = f.Write(buf.Bytes())
	return err
}
