package matching

import (
	"regexp"
	"strings"
	"unicode"
)

// MatchType selects the comparison strategy for a field.
type MatchType string

const (
	MatchName    MatchType = "name"
	MatchAddress MatchType = "address"
	MatchGeneral MatchType = "general"
)

// Default per-field thresholds.
const (
	NameThreshold        = 0.8
	AddressThreshold     = 0.8
	NationalityThreshold = 0.8
	EmployerThreshold    = 0.7
	PositionThreshold    = 0.6
)

// partialAddressThreshold applies to the tokens following a shared house number.
const partialAddressThreshold = 0.7

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	roadWords   = map[string]struct{}{
		"street": {}, "st": {},
		"avenue": {}, "ave": {},
		"road": {}, "rd": {},
		"drive": {}, "dr": {},
		"lane": {}, "ln": {},
	}
)

// Match reports whether a and b refer to the same value under the strategy
// for mt at the given threshold. Empty input on either side never matches.
func Match(a, b string, threshold float64, mt MatchType) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb || ExpandAbbreviations(na) == ExpandAbbreviations(nb) {
		return true
	}
	switch mt {
	case MatchName:
		return matchName(na, nb, threshold)
	case MatchAddress:
		return matchAddress(na, nb, threshold)
	default:
		return matchGeneral(na, nb, threshold)
	}
}

// Score returns the blended similarity the strategy for mt would compare
// against its threshold. Recorded in validation details.
func Score(a, b string, mt MatchType) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	switch mt {
	case MatchName:
		return 0.6*WordSimilarity(na, nb) + 0.4*CharSimilarity(na, nb)
	case MatchAddress:
		ca, cb := cleanAddress(na), cleanAddress(nb)
		return 0.7*WordSimilarity(ca, cb) + 0.3*CharSimilarity(ca, cb)
	default:
		return generalScore(na, nb)
	}
}

func matchName(a, b string, threshold float64) bool {
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) < 2 && len(wb) < 2 {
		return matchGeneral(a, b, threshold)
	}
	if len(wa) == len(wb) {
		same := true
		for i := range wa {
			if wa[i] != wb[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	word := WordSimilarity(a, b)
	if word >= threshold {
		return true
	}
	char := CharSimilarity(a, b)
	if char >= threshold {
		return true
	}
	if NicknameVariants().AnyEquivalent(a, b) {
		return true
	}
	return 0.6*word+0.4*char >= threshold
}

func matchAddress(a, b string, threshold float64) bool {
	ca, cb := cleanAddress(a), cleanAddress(b)
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	word := WordSimilarity(ca, cb)
	if word >= threshold {
		return true
	}
	if partialAddressMatch(ca, cb) {
		return true
	}
	return 0.7*word+0.3*CharSimilarity(ca, cb) >= threshold
}

func matchGeneral(a, b string, threshold float64) bool {
	return generalScore(a, b) >= threshold
}

func generalScore(a, b string) float64 {
	return 0.5*WordSimilarity(a, b) + 0.3*CharSimilarity(a, b) + 0.2*AbbreviationSimilarity(a, b)
}

// cleanAddress drops punctuation and road-type words.
func cleanAddress(s string) string {
	s = punctuation.ReplaceAllString(s, " ")
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, ok := roadWords[w]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// partialAddressMatch accepts the same street with a different unit: both
// addresses lead with the same house number, the remaining tokens are
// similar enough and the token counts differ by at most three.
func partialAddressMatch(a, b string) bool {
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) < 2 || len(wb) < 2 {
		return false
	}
	if !isNumeric(wa[0]) || wa[0] != wb[0] {
		return false
	}
	diff := len(wa) - len(wb)
	if diff < 0 {
		diff = -diff
	}
	if diff > 3 {
		return false
	}
	return WordSimilarity(strings.Join(wa[1:], " "), strings.Join(wb[1:], " ")) >= partialAddressThreshold
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
