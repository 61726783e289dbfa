package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// abbreviations expands street-type, corporate-suffix and job-title short forms.
var abbreviations = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"rd":   "road",
	"dr":   "drive",
	"ln":   "lane",
	"blvd": "boulevard",
	"corp": "corporation",
	"ltd":  "limited",
	"inc":  "incorporated",
	"co":   "company",
	"eng":  "engineer",
	"dev":  "developer",
	"mgr":  "manager",
	"dir":  "director",
	"pres": "president",
	"ceo":  "chief executive officer",
	"cto":  "chief technology officer",
	"cfo":  "chief financial officer",
}

// Normalize lower-cases s, strips combining marks and collapses internal
// whitespace to single spaces. Empty input yields empty output.
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	// Casers and transform chains carry state, so they are built per call.
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = cases.Lower(language.Und).String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// ExpandAbbreviations replaces known abbreviations token by token. The input
// is expected to be normalized already.
func ExpandAbbreviations(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if full, ok := abbreviations[w]; ok {
			words[i] = full
		}
	}
	return strings.Join(words, " ")
}

// Canonical is Normalize followed by ExpandAbbreviations.
func Canonical(s string) string {
	return ExpandAbbreviations(Normalize(s))
}
