// CLAUDE:SUMMARY Comparison-key normalization (NFKD + accent stripping + full case folding + whitespace collapse).
package catalog

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Folding runs between two decomposition passes so that characters whose
// fold produces a combining mark (e.g. İ) end up stripped as well.
// Transformers and casers are stateful, hence the pool.
var folders = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			cases.Fold(),
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
		)
	},
}

// Normalize returns the comparison key of s: accents removed, case folded,
// surrounding whitespace trimmed and inner whitespace runs collapsed to a
// single space. Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := folders.Get().(transform.Transformer)
	folded, _, err := transform.String(t, s)
	folders.Put(t)
	if err != nil {
		folded = strings.ToLower(s)
	}
	// Collapse last: decomposition can introduce spaces (e.g. U+00A8).
	return strings.Join(strings.Fields(folded), " ")
}

// Equivalent reports whether a and b share the same normalized key.
func Equivalent(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
