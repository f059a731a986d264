// Package preprocess implements the Query Preprocessor: it turns a raw user
// query into a synonym-expanded lexical query and a typo-corrected embedding
// text, plus the list of corrections applied along the way.
package preprocess

// Correction is one typo fix applied during preprocessing, surfaced to the
// caller for a "did you mean" UI.
type Correction struct {
	Original     string
	Corrected    string
	EditDistance int
}

// Result is the output of [Preprocessor.Process].
type Result struct {
	// LexicalQuery is a disjunction within each term's synonym group and a
	// conjunction between groups, ready for fulltext_search.
	LexicalQuery string

	// EmbeddingText is the typo-corrected query with no synonym expansion —
	// expansion would introduce noise into the embedding.
	EmbeddingText string

	Corrections []Correction
}
