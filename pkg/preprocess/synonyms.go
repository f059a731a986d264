package preprocess

import "github.com/BurntSushi/toml"

const defaultMaxExpansions = 5

// synonymFile is the on-disk shape of synonyms.toml.
type synonymFile struct {
	MaxExpansions int `toml:"max_expansions"`
	Multiway      []struct {
		Terms []string `toml:"terms"`
	} `toml:"multiway"`
	Oneway []struct {
		Source  string   `toml:"source"`
		Targets []string `toml:"targets"`
	} `toml:"oneway"`
}

// SynonymTable expands a term into its interchangeable forms: multi-way
// groups (every member is a synonym of every other) and one-way mappings
// (a source expands to its targets, but not the reverse).
type SynonymTable struct {
	groups        map[string][]string
	oneWay        map[string][]string
	maxExpansions int
}

// LoadSynonymTable reads a synonyms.toml file into a [SynonymTable].
func LoadSynonymTable(path string) (*SynonymTable, error) {
	var f synonymFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}

	maxExpansions := f.MaxExpansions
	if maxExpansions <= 0 {
		maxExpansions = defaultMaxExpansions
	}

	groups := map[string][]string{}
	for _, g := range f.Multiway {
		for _, term := range g.Terms {
			groups[term] = g.Terms
		}
	}

	oneWay := map[string][]string{}
	for _, m := range f.Oneway {
		oneWay[m.Source] = m.Targets
	}

	return &SynonymTable{groups: groups, oneWay: oneWay, maxExpansions: maxExpansions}, nil
}

// NewSynonymTable builds a table directly from in-memory group and one-way
// data, for callers that don't load from TOML (e.g. tests).
func NewSynonymTable(groups map[string][]string, oneWay map[string][]string, maxExpansions int) *SynonymTable {
	if maxExpansions <= 0 {
		maxExpansions = defaultMaxExpansions
	}
	return &SynonymTable{groups: groups, oneWay: oneWay, maxExpansions: maxExpansions}
}

// Expand returns term's synonyms (excluding term itself), capped at
// maxExpansions, combining any multi-way group it belongs to with any
// one-way mapping it is a source of.
func (t *SynonymTable) Expand(term string) []string {
	if t == nil {
		return nil
	}

	seen := map[string]bool{term: true}
	var out []string

	if group, ok := t.groups[term]; ok {
		for _, m := range group {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	if targets, ok := t.oneWay[term]; ok {
		for _, m := range targets {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}

	if len(out) > t.maxExpansions {
		out = out[:t.maxExpansions]
	}
	return out
}
