package feedback

import (
	"sort"
	"strings"
	"unicode"
)

// Ngrams returns the set of rune n-grams of length minLen..maxLen
// occurring in text. Whitespace and punctuation break gram boundaries
// so patterns never span unrelated words.
func Ngrams(text string, minLen, maxLen int) map[string]bool {
	if minLen <= 0 {
		minLen = 2
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	out := make(map[string]bool)
	for _, segment := range splitSegments(text) {
		runes := []rune(segment)
		for n := minLen; n <= maxLen; n++ {
			for i := 0; i+n <= len(runes); i++ {
				out[string(runes[i:i+n])] = true
			}
		}
	}
	return out
}

// splitSegments breaks text on whitespace and punctuation.
func splitSegments(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// qualify selects promotable n-grams: enough false-positive support,
// never seen in confirmed negatives, and maximal — a gram contained in
// a longer qualifying gram with the same support adds nothing and is
// dropped.
func qualify(support map[string]int, poison map[string]bool, minSupport int) []string {
	var qualifying []string
	for gram, count := range support {
		if count >= minSupport && !poison[gram] {
			qualifying = append(qualifying, gram)
		}
	}

	// Longest first, then lexicographic for determinism.
	sort.Slice(qualifying, func(i, j int) bool {
		li, lj := len([]rune(qualifying[i])), len([]rune(qualifying[j]))
		if li != lj {
			return li > lj
		}
		return qualifying[i] < qualifying[j]
	})

	var out []string
	for _, gram := range qualifying {
		redundant := false
		for _, kept := range out {
			if strings.Contains(kept, gram) && support[kept] == support[gram] {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, gram)
		}
	}
	return out
}
