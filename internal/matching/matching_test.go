package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  John   SMITH ": "john smith",
		"José Müller":     "jose muller",
		"":                "",
		"   ":             "",
		"Tech\tCorp\n":    "tech corp",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestExpandAbbreviations(t *testing.T) {
	assert.Equal(t, "tech corporation", ExpandAbbreviations("tech corp"))
	assert.Equal(t, "123 main street", ExpandAbbreviations("123 main st"))
	assert.Equal(t, "chief executive officer", ExpandAbbreviations("ceo"))
	assert.Equal(t, "", ExpandAbbreviations(""))
	assert.Equal(t, "tech corporation", Canonical("  Tech   CORP "))
}

func TestWordSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0/3.0, WordSimilarity("a b", "b c"), 1e-9)
	assert.InDelta(t, 1.0, WordSimilarity("a b", "b a"), 1e-9)
	assert.Zero(t, WordSimilarity("", "x"))
	assert.Zero(t, WordSimilarity("x", ""))
}

func TestCharSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CharSimilarity("ab", "ba"), 1e-9)
	assert.InDelta(t, 1.0, CharSimilarity("", ""), 1e-9)
	assert.Zero(t, CharSimilarity("a", ""))
	assert.InDelta(t, 0.5, CharSimilarity("a b", "a"), 1e-9)
}

func TestAbbreviationSimilarity(t *testing.T) {
	assert.InDelta(t, AbbreviationScore, AbbreviationSimilarity("ibm", "international business machines"), 1e-9)
	assert.InDelta(t, AbbreviationScore, AbbreviationSimilarity("international business machines", "ibm"), 1e-9)
	assert.InDelta(t, AbbreviationScore, AbbreviationSimilarity("tech", "technology partners"), 1e-9)
	assert.Zero(t, AbbreviationSimilarity("x", "foo bar"))
	assert.Zero(t, AbbreviationSimilarity("a b", "c d"))
	assert.Zero(t, AbbreviationSimilarity("xyz", "foo bar"))
}

func TestNicknameIndexIsSymmetric(t *testing.T) {
	idx := NicknameVariants()
	assert.True(t, idx.Equivalent("bill", "william"))
	assert.True(t, idx.Equivalent("William", "Bill"))
	assert.True(t, idx.AnyEquivalent("william johnson", "bill johnson"))
	assert.True(t, idx.AnyEquivalent("bill johnson", "william johnson"))
	assert.False(t, idx.Equivalent("bill", "robert"))
}

func TestLoadNicknamesDropsSelfAndLinksVariants(t *testing.T) {
	idx, err := LoadNicknames([]byte("anna: [ann, anna]\nhannah: [ann]\n"))
	require.NoError(t, err)
	assert.True(t, idx.Equivalent("ann", "anna"))
	assert.True(t, idx.Equivalent("ann", "hannah"))
	assert.False(t, idx.Equivalent("anna", "anna"))
	assert.False(t, idx.Equivalent("anna", "hannah"))

	_, err = LoadNicknames([]byte("[not a map"))
	require.Error(t, err)
}

func TestMatchScenarios(t *testing.T) {
	assert.True(t, Match("William Johnson", "bill johnson", NameThreshold, MatchName))
	assert.True(t, Match("Tech Corporation", "Tech Corp", EmployerThreshold, MatchGeneral))
	assert.True(t, Match("123 Main Street, New York, NY 10001", "123 Main St, New York, NY 10001", AddressThreshold, MatchAddress))
}

func TestMatchRejectsDifferentValues(t *testing.T) {
	assert.False(t, Match("John Smith", "Mary Jones", NameThreshold, MatchName))
	assert.False(t, Match("123 Main Street", "456 Oak Avenue", AddressThreshold, MatchAddress))
	assert.False(t, Match("Software Engineer", "Accountant", PositionThreshold, MatchGeneral))
	assert.False(t, Match("Bob", "Robert", NameThreshold, MatchName))
}

func TestMatchEmptyNeverMatches(t *testing.T) {
	for _, mt := range []MatchType{MatchName, MatchAddress, MatchGeneral} {
		assert.False(t, Match("", "john", 0.1, mt))
		assert.False(t, Match("john", "  ", 0.1, mt))
		assert.False(t, Match("", "", 0.1, mt))
	}
}

func TestMatchSelf(t *testing.T) {
	values := []string{
		"William Johnson",
		"  José   Müller ",
		"123 Main St., Apt 4",
		"Tech Corp",
		"x",
		"St",
	}
	for _, v := range values {
		for _, mt := range []MatchType{MatchName, MatchAddress, MatchGeneral} {
			assert.True(t, Match(Normalize(v), Normalize(v), 0.99, mt), "%q as %s", v, mt)
			assert.True(t, Match(v, v, 0.99, mt), "%q as %s", v, mt)
		}
	}
}

func TestNameMatchIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"William Johnson", "bill johnson"},
		{"Robert Smith", "Bob Smith"},
		{"John Smith", "Mary Jones"},
		{"Anna", "Anna Karenina"},
		{"Elizabeth Taylor", "Liz Taylor"},
	}
	for _, p := range pairs {
		assert.Equal(t, Match(p[0], p[1], NameThreshold, MatchName), Match(p[1], p[0], NameThreshold, MatchName), "%v", p)
	}
}

func TestPartialAddressMatch(t *testing.T) {
	assert.True(t, partialAddressMatch("10 downing london westminster sw1a 2aa flat 1", "10 downing london westminster sw1a 2aa"))
	assert.False(t, partialAddressMatch("11 downing london westminster sw1a 2aa flat 1", "10 downing london westminster sw1a 2aa"))
	assert.False(t, partialAddressMatch("downing london", "downing london"))
}

func TestCleanAddress(t *testing.T) {
	assert.Equal(t, "123 main new york ny 10001", cleanAddress("123 main st, new york, ny 10001"))
	assert.Equal(t, "123 main new york ny 10001", cleanAddress("123 main street, new york, ny 10001"))
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 1.0, Score("Tech", "tech", MatchGeneral), 1e-9)
	assert.Zero(t, Score("", "tech", MatchName))
	assert.Less(t, Score("John Smith", "Mary Jones", MatchName), NameThreshold)
}
