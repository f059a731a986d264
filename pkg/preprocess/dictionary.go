package preprocess

import (
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// Dictionary is the merged spelling-correction corpus: a general English
// base layered with domain-specific (TTRPG) term frequencies boosted 10x,
// a bigram table for compound-word splits, and a protected-words list that
// bypasses correction entirely (game abbreviations like "dnd", "5e", "phb").
type Dictionary struct {
	// Words maps a known word to its frequency. Domain terms have already
	// been merged in at 10x their base weight, so frequency-based tie
	// breaking naturally favors domain vocabulary.
	Words map[string]int

	// Bigrams maps a compound run-together word to its canonical two-word
	// phrase, e.g. "magicmissle" -> "magic missile".
	Bigrams map[string]string

	// Protected words are never corrected regardless of edit distance.
	Protected map[string]bool
}

const domainBoostFactor = 10

// NewDictionary merges general and domain frequency tables (domain
// frequencies multiplied by [domainBoostFactor]) into one lookup table.
func NewDictionary(general, domain map[string]int, bigrams map[string]string, protected []string) *Dictionary {
	words := make(map[string]int, len(general)+len(domain))
	for w, f := range general {
		words[w] = f
	}
	for w, f := range domain {
		words[w] += f * domainBoostFactor
	}

	protectedSet := make(map[string]bool, len(protected))
	for _, w := range protected {
		protectedSet[w] = true
	}

	return &Dictionary{Words: words, Bigrams: bigrams, Protected: protectedSet}
}

// dictionaryFile is the on-disk shape of preprocessing.toml.
type dictionaryFile struct {
	General   map[string]int    `toml:"general"`
	Domain    map[string]int    `toml:"domain"`
	Bigrams   map[string]string `toml:"bigrams"`
	Protected []string          `toml:"protected"`
}

// LoadDictionary reads a preprocessing.toml file into a [Dictionary],
// applying the same domain-frequency boost as [NewDictionary].
func LoadDictionary(path string) (*Dictionary, error) {
	var f dictionaryFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	return NewDictionary(f.General, f.Domain, f.Bigrams, f.Protected), nil
}

// Store holds the active [Dictionary] behind an atomic pointer so the
// corpus dictionary can be regenerated after bulk ingestion and hot-swapped
// without a lock: in-flight queries that already loaded the prior pointer
// finish against it, and every new lookup sees the new one.
type Store struct {
	ptr atomic.Pointer[Dictionary]
}

// NewStore creates a [Store] seeded with the given dictionary.
func NewStore(initial *Dictionary) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Load returns the currently active dictionary.
func (s *Store) Load() *Dictionary {
	return s.ptr.Load()
}

// Swap atomically replaces the active dictionary.
func (s *Store) Swap(d *Dictionary) {
	s.ptr.Store(d)
}
