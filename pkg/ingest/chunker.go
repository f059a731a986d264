package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// Default size limits for the semantic chunker, in characters.
const (
	defaultTargetSize = 1500
	defaultMaxSize    = 4000
)

// Protected-boundary regex families: TTRPG prose that must never be split
// across two chunks, because splitting mid-block breaks the citation (a
// stat block or spell entry only makes sense whole).
var (
	statBlockRE   = regexp.MustCompile(`(?is)armor class\s+\d+.{0,200}?hit points\s+\d+`)
	spellHeaderRE = regexp.MustCompile(`(?i)^\s*\d+(st|nd|rd|th)-level\s+\w+`)
	itemHeaderRE  = regexp.MustCompile(`(?i)^\s*(wondrous item|weapon|armor|ring|wand|staff|rod|potion|scroll)\b.*\(.*\)\s*$`)
	tableHeaderRE = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

// ChunkerConfig tunes the semantic chunker's size limits.
type ChunkerConfig struct {
	// TargetSize is the preferred chunk length in characters. Default 1500.
	TargetSize int
	// MaxSize is the hard ceiling before a forced split. Default 4000.
	MaxSize int
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	if c.TargetSize <= 0 {
		c.TargetSize = defaultTargetSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	return c
}

// Chunker implements the TTRPG-aware semantic segmenter from the ingestion
// pipeline's phase 2: it walks raw pages section by section, keeping
// protected boundaries (stat blocks, spell headers, item headers, table
// rows) intact while splitting ordinary prose at sentence boundaries once it
// exceeds MaxSize.
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker builds a [Chunker] with the given config, applying defaults to
// any zero-value field.
func NewChunker(cfg ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// chunkState carries the accumulator across Chunk's per-section steps: the
// in-progress chunk text and the set of pages it draws from.
type chunkState struct {
	item    storage.LibraryItem
	cfg     ChunkerConfig
	current strings.Builder
	pages   map[int]bool
	index   int
	chunks  []storage.Chunk
}

func (s *chunkState) flush() {
	text := strings.TrimSpace(s.current.String())
	if text != "" {
		s.chunks = append(s.chunks, buildChunk(s.item, text, s.pages, s.index))
		s.index++
	}
	s.current.Reset()
	s.pages = map[int]bool{}
}

func (s *chunkState) addSection(pageNumber int, section string) {
	if isProtectedBoundary(section) {
		s.flush()
		s.current.WriteString(section)
		s.pages[pageNumber] = true
		return
	}

	if s.current.Len()+len(section) > s.cfg.MaxSize && s.current.Len() > 0 {
		text := s.current.String()
		splitPoint := nearestSentenceBoundary(text, s.cfg.TargetSize)
		head := strings.TrimSpace(text[:splitPoint])
		if head != "" {
			s.chunks = append(s.chunks, buildChunk(s.item, head, s.pages, s.index))
			s.index++
		}
		s.current.Reset()
		s.current.WriteString(text[splitPoint:])
		if s.current.Len() > 0 {
			s.current.WriteString("\n\n")
		}
		s.current.WriteString(section)
	} else {
		if s.current.Len() > 0 {
			s.current.WriteString("\n\n")
		}
		s.current.WriteString(section)
	}
	s.pages[pageNumber] = true
}

// Chunk walks pages in order and emits semantically coherent chunks carrying
// page provenance, per the algorithm in the ingestion pipeline spec.
func (c *Chunker) Chunk(item storage.LibraryItem, pages []storage.RawPage) []storage.Chunk {
	state := &chunkState{item: item, cfg: c.cfg, pages: map[int]bool{}}

	for _, page := range pages {
		for _, rawSection := range detectSections(page.Text) {
			rawSection = strings.TrimSpace(rawSection)
			if rawSection == "" {
				continue
			}

			// A non-protected section that alone exceeds max_size (e.g. a
			// page with no paragraph breaks at all) is pre-split at
			// sentence boundaries so every downstream piece independently
			// respects max_size before the incremental accumulation above
			// ever sees it.
			for _, section := range splitOversizedSection(rawSection, c.cfg.MaxSize, c.cfg.TargetSize) {
				state.addSection(page.PageNumber, section)
			}
		}
	}
	state.flush()
	return state.chunks
}

// splitOversizedSection recursively carves a section larger than maxSize
// into sentence-boundary pieces no bigger than maxSize. Protected sections
// (stat blocks, spell/item headers, table rows) are always small enough in
// practice that this never fires for them.
func splitOversizedSection(text string, maxSize, targetSize int) []string {
	if len(text) <= maxSize || isProtectedBoundary(text) {
		return []string{text}
	}
	splitPoint := nearestSentenceBoundary(text, targetSize)
	if splitPoint <= 0 || splitPoint >= len(text) {
		splitPoint = min(targetSize, len(text))
	}
	head := strings.TrimSpace(text[:splitPoint])
	rest := strings.TrimSpace(text[splitPoint:])
	if rest == "" {
		return []string{head}
	}
	return append([]string{head}, splitOversizedSection(rest, maxSize, targetSize)...)
}

// detectSections splits page text into paragraph-sized sections on blank
// lines, which is where TTRPG sourcebooks reliably break between stat
// blocks, spell entries, and prose.
func detectSections(text string) []string {
	return strings.Split(text, "\n\n")
}

func isProtectedBoundary(section string) bool {
	return statBlockRE.MatchString(section) ||
		spellHeaderRE.MatchString(section) ||
		itemHeaderRE.MatchString(section) ||
		tableHeaderRE.MatchString(section)
}

// nearestSentenceBoundary finds the sentence end (.!? followed by whitespace
// and either a capital letter or end of string) closest to target, scanning
// the whole text since a single paragraph rarely exceeds a few target
// windows. If no boundary is found, target itself is used as a hard split.
func nearestSentenceBoundary(text string, target int) int {
	if target >= len(text) {
		return len(text)
	}

	best := -1
	bestDist := len(text) + 1

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		if j >= len(text) {
			continue
		}
		for j < len(text) && unicode.IsSpace(rune(text[j])) {
			j++
		}
		if j < len(text) && !unicode.IsUpper(rune(text[j])) {
			continue
		}
		dist := abs(j - target)
		if dist < bestDist {
			bestDist = dist
			best = j
		}
	}

	if best == -1 {
		return target
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func buildChunk(item storage.LibraryItem, text string, pages map[int]bool, index int) storage.Chunk {
	pageStart, pageEnd := pageRange(pages)
	return storage.Chunk{
		ID:            item.ID + "-" + strconv.Itoa(index),
		LibraryItemID: item.ID,
		Content:       text,
		ContentType:   inferContentType(item),
		PageNumber:    pageStart,
		PageStart:     pageStart,
		PageEnd:       pageEnd,
		ChunkIndex:    index,
		ChunkType:     inferChunkType(text),
	}
}

func pageRange(pages map[int]bool) (start, end int) {
	first := true
	for p := range pages {
		if first || p < start {
			start = p
		}
		if first || p > end {
			end = p
		}
		first = false
	}
	return start, end
}

func inferContentType(item storage.LibraryItem) storage.ChunkContentType {
	if item.ContentCategory != "" {
		return storage.ChunkContentType(item.ContentCategory)
	}
	return storage.ContentRules
}

func inferChunkType(text string) string {
	switch {
	case statBlockRE.MatchString(text):
		return "stat_block"
	case spellHeaderRE.MatchString(text):
		return "spell"
	case itemHeaderRE.MatchString(text):
		return "item"
	case tableHeaderRE.MatchString(text):
		return "table"
	default:
		return "prose"
	}
}
