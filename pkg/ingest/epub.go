package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"context"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// EPUB and DOCX both package their content as a zip of XML documents, so
// both extractors are built on the standard library's archive/zip and
// encoding/xml rather than a pack-provided parser — no example repo in the
// retrieval pack carries an EPUB or DOCX library.
type epubExtractor struct{}

type epubContainer struct {
	XMLName xml.Name `xml:"container"`
	Rootfiles struct {
		Rootfile []struct {
			FullPath string `xml:"full-path,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

type epubPackage struct {
	XMLName xml.Name `xml:"package"`
	Manifest struct {
		Item []struct {
			ID   string `xml:"id,attr"`
			Href string `xml:"href,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRef []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

// Extract reads META-INF/container.xml to locate the OPF package document,
// walks the spine in reading order, and strips HTML tags from each XHTML
// document. EPUB has no native page concept, so each spine document becomes
// one RawPage numbered by its position in the spine.
func (epubExtractor) Extract(ctx context.Context, filePath string) ([]storage.RawPage, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("ingest: open epub: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	containerData, err := readZipFile(files, "META-INF/container.xml")
	if err != nil {
		return nil, fmt.Errorf("ingest: epub missing container.xml: %w", err)
	}
	var container epubContainer
	if err := xml.Unmarshal(containerData, &container); err != nil {
		return nil, fmt.Errorf("ingest: parse container.xml: %w", err)
	}
	if len(container.Rootfiles.Rootfile) == 0 {
		return nil, fmt.Errorf("ingest: epub container.xml has no rootfile")
	}
	opfPath := container.Rootfiles.Rootfile[0].FullPath

	opfData, err := readZipFile(files, opfPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: read package document: %w", err)
	}
	var pkg epubPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("ingest: parse package document: %w", err)
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Item))
	for _, item := range pkg.Manifest.Item {
		hrefByID[item.ID] = item.Href
	}

	base := path.Dir(opfPath)
	pages := make([]storage.RawPage, 0, len(pkg.Spine.ItemRef))
	for i, ref := range pkg.Spine.ItemRef {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		docPath := path.Join(base, href)
		docData, err := readZipFile(files, docPath)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(stripHTML(string(docData)))
		pages = append(pages, storage.RawPage{
			PageNumber:  i + 1,
			Text:        text,
			LayoutHints: map[string]any{"spine_href": href},
		})
	}
	return pages, nil
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("no such entry: %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func stripHTML(s string) string {
	s = htmlTagRE.ReplaceAllString(s, "\n")
	return strings.Join(strings.Fields(s), " ")
}
