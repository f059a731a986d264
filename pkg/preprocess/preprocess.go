package preprocess

import (
	"strings"
	"unicode"
)

// Preprocessor runs the four-stage query pipeline: normalize, typo correct,
// synonym expand, and emit the lexical query / embedding text pair.
type Preprocessor struct {
	dict     *Store
	synonyms *SynonymTable
}

// New builds a [Preprocessor] over a hot-swappable dictionary store and a
// (possibly nil) synonym table.
func New(dict *Store, synonyms *SynonymTable) *Preprocessor {
	return &Preprocessor{dict: dict, synonyms: synonyms}
}

// Process runs the full pipeline over a raw user query.
func (p *Preprocessor) Process(query string) Result {
	dict := p.dict.Load()
	tokens := tokenize(normalize(query))

	corrected := make([]string, len(tokens))
	var corrections []Correction
	for i, tok := range tokens {
		fixed, dist, changed := correctWord(tok, dict)
		corrected[i] = fixed
		if changed {
			corrections = append(corrections, Correction{
				Original:     tok,
				Corrected:    fixed,
				EditDistance: dist,
			})
		}
	}

	return Result{
		LexicalQuery:  p.buildLexicalQuery(corrected),
		EmbeddingText: strings.Join(corrected, " "),
		Corrections:   corrections,
	}
}

// buildLexicalQuery renders each token's synonym group as a disjunction and
// joins groups with a conjunction, e.g. "(hp OR health) AND potion".
func (p *Preprocessor) buildLexicalQuery(tokens []string) string {
	groups := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		expansions := p.synonyms.Expand(tok)
		if len(expansions) == 0 {
			groups = append(groups, tok)
			continue
		}
		members := append([]string{tok}, expansions...)
		groups = append(groups, "("+strings.Join(members, " OR ")+")")
	}
	return strings.Join(groups, " AND ")
}

// normalize lowercases and collapses runs of whitespace.
func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// tokenize splits normalized text into words, dropping bare punctuation so
// it never reaches the dictionary lookup or the lexical query.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-' && r != '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
