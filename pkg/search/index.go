// CLAUDE:SUMMARY Immutable text index over an option list: normalized forms, token sets, initials, inverted index and first-character buckets.
package search

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Index is a precomputed view of an option list. It is never mutated after
// Build; rebuild it when the options change.
type Index struct {
	options  []string
	norms    []string
	tokens   []map[string]struct{}
	initials []string
	inverted map[string][]int
	buckets  map[string][]int
}

// Build indexes options in order. Duplicates are kept as distinct positions.
func Build(options []string) *Index {
	idx := &Index{
		options:  slices.Clone(options),
		norms:    make([]string, len(options)),
		tokens:   make([]map[string]struct{}, len(options)),
		initials: make([]string, len(options)),
		inverted: make(map[string][]int),
		buckets:  make(map[string][]int),
	}
	for i, opt := range options {
		n := catalog.Normalize(opt)
		idx.norms[i] = n

		words := strings.Fields(n)
		set := make(map[string]struct{}, len(words))
		var initials strings.Builder
		for _, w := range words {
			r, _ := utf8.DecodeRuneInString(w)
			initials.WriteRune(r)
			if _, dup := set[w]; dup {
				continue
			}
			set[w] = struct{}{}
			idx.inverted[w] = append(idx.inverted[w], i)
		}
		idx.tokens[i] = set
		idx.initials[i] = initials.String()

		b := firstRune(n)
		idx.buckets[b] = append(idx.buckets[b], i)
	}
	return idx
}

// Len returns the number of indexed options.
func (idx *Index) Len() int { return len(idx.options) }

// Options returns a copy of the indexed options in input order.
func (idx *Index) Options() []string { return slices.Clone(idx.options) }

// Option returns the display text at position i.
func (idx *Index) Option(i int) string { return idx.options[i] }

// Normalized returns the normalized text at position i.
func (idx *Index) Normalized(i int) string { return idx.norms[i] }

// Initials returns the first character of every token at position i.
func (idx *Index) Initials(i int) string { return idx.initials[i] }

// Postings returns the positions whose token set contains token.
func (idx *Index) Postings(token string) []int {
	return slices.Clone(idx.inverted[catalog.Normalize(token)])
}

// Bucket returns the positions whose normalized text starts with the first
// character of prefix. An empty prefix selects options that normalize to "".
func (idx *Index) Bucket(prefix string) []int {
	return slices.Clone(idx.buckets[firstRune(catalog.Normalize(prefix))])
}

func (idx *Index) hasToken(i int, token string) bool {
	_, ok := idx.tokens[i][token]
	return ok
}

func (idx *Index) anyTokenHasPrefix(i int, prefix string) bool {
	for t := range idx.tokens[i] {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

func firstRune(s string) string {
	if s == "" {
		return ""
	}
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}
