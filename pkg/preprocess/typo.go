package preprocess

import "github.com/antzucaro/matchr"

// editDistanceBudget returns the maximum Damerau-Levenshtein distance a word
// of this length is allowed to be corrected across. Short words are left
// alone entirely since almost any real word is within one edit of them,
// which would make correction noisier than the typo it fixes.
func editDistanceBudget(wordLen int) int {
	switch {
	case wordLen < 5:
		return 0
	case wordLen <= 8:
		return 1
	default:
		return 2
	}
}

// correctWord looks up word in dict and, if it isn't already known, finds
// the closest dictionary entry within its length's edit distance budget. It
// returns the word unchanged (changed=false) when word is protected, already
// known, too short to correct, or has no candidate within budget.
func correctWord(word string, dict *Dictionary) (corrected string, distance int, changed bool) {
	if dict.Protected[word] {
		return word, 0, false
	}
	if _, known := dict.Words[word]; known {
		return word, 0, false
	}
	if phrase, ok := dict.Bigrams[word]; ok {
		return phrase, 0, true
	}

	budget := editDistanceBudget(len(word))
	if budget == 0 {
		return word, 0, false
	}

	bestWord := ""
	bestDist := budget + 1
	bestFreq := -1

	for candidate, freq := range dict.Words {
		// Cheap length-based pruning before the more expensive edit distance
		// computation: two strings further apart in length than budget can
		// never be within budget edits of each other.
		if diff := len(candidate) - len(word); diff > budget || diff < -budget {
			continue
		}
		d := matchr.DamerauLevenshtein(word, candidate)
		if d > budget {
			continue
		}
		if d < bestDist || (d == bestDist && freq > bestFreq) {
			bestDist = d
			bestWord = candidate
			bestFreq = freq
		}
	}

	if bestWord == "" {
		return word, 0, false
	}
	return bestWord, bestDist, true
}
