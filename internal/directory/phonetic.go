package directory

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticThreshold is the minimum Jaro-Winkler score for a candidate that
// already overlaps phonetically. Phonetic overlap is strong evidence on its
// own, so the string-similarity bar is lower than the plain fuzzy stage's.
const phoneticThreshold = 0.70

// resolvePhonetic is the last resolution stage: transcription often renders a
// name as a different spelling that sounds the same ("Smyth" for "Smith"), so
// entries whose Double Metaphone codes overlap the query's become candidates
// and the best Jaro-Winkler score among them decides.
func (d *Directory) resolvePhonetic(q string) (Entry, bool) {
	qTokens := strings.Fields(q)
	qCodes := codesForTokens(qTokens)
	if len(qCodes) == 0 {
		return Entry{}, false
	}

	best := -1
	bestScore := 0.0
	for i, e := range d.entries {
		name := strings.ToLower(e.DisplayName)
		nameTokens := strings.Fields(name)
		if !codesOverlap(qCodes, codesForTokens(nameTokens)) {
			continue
		}
		if score := bestSimilarity(qTokens, nameTokens, q, name); score > bestScore {
			bestScore = score
			best = i
		}
	}

	if best < 0 || bestScore < phoneticThreshold {
		return Entry{}, false
	}
	return d.entries[best], true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// query and the name using three strategies:
//
//  1. Full-string comparison ("jon smyth" vs "john smith").
//  2. Space-stripped comparison, for names the transcriber runs together.
//  3. Best pairwise token comparison, for a single spoken word matching one
//     word of a multi-word name.
func bestSimilarity(qTokens, nameTokens []string, qFull, nameFull string) float64 {
	score := matchr.JaroWinkler(qFull, nameFull, false)

	if len(qTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}

	for _, qt := range qTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
