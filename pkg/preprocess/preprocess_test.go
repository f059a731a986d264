package preprocess

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testDictionary() *Dictionary {
	return NewDictionary(
		map[string]int{"the": 1000, "potion": 500, "healing": 400, "dragon": 300},
		map[string]int{"initiative": 50, "advantage": 40},
		map[string]string{"magicmissle": "magic missile"},
		[]string{"dnd", "5e", "phb"},
	)
}

func TestCorrectWord_ShortWordsNeverCorrected(t *testing.T) {
	dict := testDictionary()
	got, _, changed := correctWord("teh", dict)
	if changed {
		t.Errorf("expected no correction for short word, got %q", got)
	}
}

func TestCorrectWord_ProtectedWordsBypassCorrection(t *testing.T) {
	dict := testDictionary()
	got, _, changed := correctWord("dnd", dict)
	if changed || got != "dnd" {
		t.Errorf("expected protected word untouched, got %q (changed=%v)", got, changed)
	}
}

func TestCorrectWord_MidLengthWordCorrectedWithinDistanceOne(t *testing.T) {
	dict := testDictionary()
	got, dist, changed := correctWord("potin", dict)
	if !changed || got != "potion" {
		t.Fatalf("expected correction to 'potion', got %q (changed=%v)", got, changed)
	}
	if dist != 1 {
		t.Errorf("expected edit distance 1, got %d", dist)
	}
}

func TestCorrectWord_LongWordAllowsDistanceTwo(t *testing.T) {
	dict := testDictionary()
	got, _, changed := correctWord("initative", dict)
	if !changed || got != "initiative" {
		t.Fatalf("expected correction to 'initiative', got %q (changed=%v)", got, changed)
	}
}

func TestCorrectWord_BigramExpandsCompound(t *testing.T) {
	dict := testDictionary()
	got, dist, changed := correctWord("magicmissle", dict)
	if !changed || got != "magic missile" || dist != 0 {
		t.Errorf("expected bigram expansion, got %q dist=%d changed=%v", got, dist, changed)
	}
}

func TestCorrectWord_KnownWordUnchanged(t *testing.T) {
	dict := testDictionary()
	got, _, changed := correctWord("dragon", dict)
	if changed || got != "dragon" {
		t.Errorf("expected known word untouched, got %q", got)
	}
}

func TestLoadDictionary_ParsesTOMLAndBoostsDomainFrequencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preprocessing.toml")
	contents := `
protected = ["dnd", "5e"]

[general]
the = 1000
potion = 500

[domain]
initiative = 50

[bigrams]
magicmissle = "magic missile"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	dict, err := LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if dict.Words["initiative"] != 50*domainBoostFactor {
		t.Errorf("expected domain boost, got %d", dict.Words["initiative"])
	}
	if dict.Words["the"] != 1000 {
		t.Errorf("expected general word untouched, got %d", dict.Words["the"])
	}
	if dict.Bigrams["magicmissle"] != "magic missile" {
		t.Errorf("expected bigram loaded, got %q", dict.Bigrams["magicmissle"])
	}
	if !dict.Protected["dnd"] {
		t.Error("expected dnd to be protected")
	}
}

func TestSynonymTable_MultiwayGroupExpandsBothDirections(t *testing.T) {
	table := NewSynonymTable(
		map[string][]string{
			"hp":          {"hp", "hit points", "health"},
			"hit points":  {"hp", "hit points", "health"},
			"health":      {"hp", "hit points", "health"},
		},
		nil, 5,
	)
	got := table.Expand("hp")
	if len(got) != 2 {
		t.Fatalf("expected 2 expansions, got %v", got)
	}
}

func TestSynonymTable_OneWayDoesNotExpandBackward(t *testing.T) {
	table := NewSynonymTable(nil, map[string][]string{"dragon": {"wyrm", "drake"}}, 5)
	if got := table.Expand("dragon"); len(got) != 2 {
		t.Errorf("expected forward expansion, got %v", got)
	}
	if got := table.Expand("wyrm"); len(got) != 0 {
		t.Errorf("expected no backward expansion, got %v", got)
	}
}

func TestSynonymTable_CapsAtMaxExpansions(t *testing.T) {
	table := NewSynonymTable(nil, map[string][]string{
		"weapon": {"sword", "axe", "mace", "spear", "bow", "dagger"},
	}, 3)
	got := table.Expand("weapon")
	if len(got) != 3 {
		t.Fatalf("expected expansions capped at 3, got %d: %v", len(got), got)
	}
}

func TestPreprocessor_ProcessBuildsLexicalAndEmbeddingText(t *testing.T) {
	dict := NewStore(testDictionary())
	synonyms := NewSynonymTable(map[string][]string{
		"hp":     {"hp", "health"},
		"health": {"hp", "health"},
	}, nil, 5)
	p := New(dict, synonyms)

	result := p.Process("  Potin and HP  ")

	if !strings.Contains(result.EmbeddingText, "potion") {
		t.Errorf("expected embedding text to contain corrected 'potion', got %q", result.EmbeddingText)
	}
	if strings.Contains(result.EmbeddingText, "health") {
		t.Errorf("embedding text must not carry synonym expansion, got %q", result.EmbeddingText)
	}
	if !strings.Contains(result.LexicalQuery, "(hp OR health)") {
		t.Errorf("expected lexical query to expand hp, got %q", result.LexicalQuery)
	}
	if len(result.Corrections) != 1 || result.Corrections[0].Corrected != "potion" {
		t.Errorf("expected one correction for potion, got %+v", result.Corrections)
	}
}

func TestPreprocessor_HotSwapAffectsOnlyFutureCalls(t *testing.T) {
	store := NewStore(NewDictionary(map[string]int{"buckler": 10}, nil, nil, nil))
	p := New(store, nil)

	before := p.Process("sowrd")
	if len(before.Corrections) != 0 {
		t.Fatalf("expected no correction before swap (no candidate in dictionary), got %+v", before.Corrections)
	}

	store.Swap(NewDictionary(map[string]int{"buckler": 10, "sword": 10}, nil, nil, nil))
	after := p.Process("sowrd")
	if len(after.Corrections) == 0 || after.Corrections[0].Corrected != "sword" {
		t.Fatalf("expected correction to 'sword' after dictionary swap, got %+v", after.Corrections)
	}
}
