package matching

import "strings"

// AbbreviationScore is the fixed score awarded when one side abbreviates the other.
const AbbreviationScore = 0.9

// WordSimilarity is the Jaccard index over the whitespace-delimited token sets
// of a and b. It is 0 when either side has no tokens.
func WordSimilarity(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	return jaccard(wa, wb)
}

// CharSimilarity is the Jaccard index over the sets of unique characters of
// a and b with spaces removed. Two empty strings score 1, exactly one empty
// string scores 0. Character order and multiplicity are ignored.
func CharSimilarity(a, b string) float64 {
	ca := charSet(a)
	cb := charSet(b)
	switch {
	case len(ca) == 0 && len(cb) == 0:
		return 1
	case len(ca) == 0 || len(cb) == 0:
		return 0
	}
	return jaccard(ca, cb)
}

// AbbreviationSimilarity returns AbbreviationScore when one side is a single
// token that abbreviates the other, multi-token side, and 0 otherwise.
func AbbreviationSimilarity(a, b string) float64 {
	wa := strings.Fields(a)
	wb := strings.Fields(b)
	if len(wa) == 1 && len(wb) > 1 && isAbbreviation(wa[0], wb) {
		return AbbreviationScore
	}
	if len(wb) == 1 && len(wa) > 1 && isAbbreviation(wb[0], wa) {
		return AbbreviationScore
	}
	return 0
}

// isAbbreviation reports whether abbrev is contained in the first word of
// words or equals the acronym of words.
func isAbbreviation(abbrev string, words []string) bool {
	abbrev = strings.ToLower(abbrev)
	if len([]rune(abbrev)) < 2 || len(words) == 0 {
		return false
	}
	if strings.Contains(strings.ToLower(words[0]), abbrev) {
		return true
	}
	var acronym strings.Builder
	for _, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			acronym.WriteRune(r[0])
		}
	}
	return abbrev == acronym.String()
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

func charSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, r := range s {
		if r == ' ' {
			continue
		}
		out[string(r)] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
