package movies

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalizer proposes alternative spellings of a path to probe when the
// catalogued one does not exist.
type Normalizer interface {
	Variants(name string) []string
}

// UnicodeNormalizer tries the composed and decomposed forms of a name.
// Files copied from macOS volumes often carry decomposed "å", "ä" and "ö"
// while the catalog stores them composed.
type UnicodeNormalizer struct{}

func (UnicodeNormalizer) Variants(name string) []string {
	return distinct(name, norm.NFC.String(name), norm.NFD.String(name))
}

// Substitution replaces characters using a project-specific table.
type Substitution map[string]string

// SwedishFolding maps Swedish letters to their unaccented base letter.
var SwedishFolding = Substitution{
	"å": "a", "ä": "a", "ö": "o",
	"Å": "A", "Ä": "A", "Ö": "O",
}

func (s Substitution) Variants(name string) []string {
	composed := norm.NFC.String(name)
	pairs := make([]string, 0, len(s)*2)
	for from, to := range s {
		pairs = append(pairs, from, to)
	}
	return distinct(name, strings.NewReplacer(pairs...).Replace(composed))
}

// Normalizers applies each normalizer in order.
type Normalizers []Normalizer

func (ns Normalizers) Variants(name string) []string {
	var out []string
	for _, n := range ns {
		out = append(out, n.Variants(name)...)
	}
	return distinct(name, out...)
}

// distinct returns candidates without duplicates and without orig.
func distinct(orig string, candidates ...string) []string {
	seen := map[string]bool{orig: true}
	var out []string
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
