package matching

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed nicknames.yaml
var nicknamesYAML []byte

// NicknameIndex is a symmetric equivalence index between canonical first
// names and their informal variants. It is read-only after construction.
type NicknameIndex struct {
	related map[string]map[string]struct{}
}

var defaultNicknames = mustLoadNicknames(nicknamesYAML)

// LoadNicknames parses a canonical→variants table and builds the reverse
// index once. Duplicate and self-referencing entries are dropped.
func LoadNicknames(raw []byte) (*NicknameIndex, error) {
	var table map[string][]string
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, eris.Wrap(err, "nicknames: decode table")
	}
	idx := &NicknameIndex{related: map[string]map[string]struct{}{}}
	for canonical, variants := range table {
		c := Normalize(canonical)
		for _, v := range variants {
			v = Normalize(v)
			if c == "" || v == "" || c == v {
				continue
			}
			idx.link(c, v)
			idx.link(v, c)
		}
	}
	return idx, nil
}

func mustLoadNicknames(raw []byte) *NicknameIndex {
	idx, err := LoadNicknames(raw)
	if err != nil {
		panic(err)
	}
	return idx
}

func (n *NicknameIndex) link(a, b string) {
	set, ok := n.related[a]
	if !ok {
		set = map[string]struct{}{}
		n.related[a] = set
	}
	set[b] = struct{}{}
}

// Equivalent reports whether two single names are a canonical/variant pair.
func (n *NicknameIndex) Equivalent(a, b string) bool {
	_, ok := n.related[Normalize(a)][Normalize(b)]
	return ok
}

// AnyEquivalent reports whether any token of a is a nickname variant of any
// token of b, in either direction.
func (n *NicknameIndex) AnyEquivalent(a, b string) bool {
	for _, wa := range strings.Fields(a) {
		for _, wb := range strings.Fields(b) {
			if n.Equivalent(wa, wb) {
				return true
			}
		}
	}
	return false
}

// NicknameVariants returns the built-in nickname index.
func NicknameVariants() *NicknameIndex {
	return defaultNicknames
}
