package catalog

import (
	"sort"
	"strings"
)

// DefaultMinRatio is the fuzzy acceptance threshold used when none is given.
const DefaultMinRatio = 0.90

// Synonyms maps alias text to a target value. Keys are compared by their
// normalized form only; a misspelled alias is not caught.
type Synonyms map[string]string

// MatchKind tells which step of Resolve produced the value.
type MatchKind string

const (
	MatchEmpty   MatchKind = "empty"
	MatchExact   MatchKind = "exact"
	MatchSynonym MatchKind = "synonym"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchNone    MatchKind = "none"
)

// Resolution is the outcome of mapping free text onto a catalog.
type Resolution struct {
	Value string    `json:"value"`
	Kind  MatchKind `json:"kind"`
	Ratio float64   `json:"ratio,omitempty"`
}

// Canonicalize maps raw onto the catalog entry it most likely stands for,
// or returns the trimmed input when nothing is close enough.
func Canonicalize(raw string, catalog []string, synonyms Synonyms, minRatio float64) string {
	return Resolve(raw, catalog, synonyms, minRatio).Value
}

// Resolve is Canonicalize with the matching step and ratio reported.
// Steps, first hit wins: blank input, exact normalized match, synonym,
// best fuzzy ratio >= minRatio, input unchanged.
func Resolve(raw string, catalog []string, synonyms Synonyms, minRatio float64) Resolution {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Resolution{Kind: MatchEmpty}
	}

	key := Normalize(s)
	keys := make([]string, len(catalog))
	for i, opt := range catalog {
		keys[i] = Normalize(opt)
		if keys[i] == key {
			return Resolution{Value: opt, Kind: MatchExact, Ratio: 1}
		}
	}

	if len(synonyms) > 0 {
		aliases := make([]string, 0, len(synonyms))
		for k := range synonyms {
			aliases = append(aliases, k)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			if Normalize(alias) != key {
				continue
			}
			target := synonyms[alias]
			tk := Normalize(target)
			for i, opt := range catalog {
				if keys[i] == tk {
					return Resolution{Value: opt, Kind: MatchSynonym, Ratio: 1}
				}
			}
			return Resolution{Value: target, Kind: MatchSynonym, Ratio: 1}
		}
	}

	best, bestRatio := -1, 0.0
	for i := range catalog {
		if r := Ratio(key, keys[i]); r > bestRatio {
			best, bestRatio = i, r
		}
	}
	if best >= 0 && catalog[best] != "" && bestRatio >= minRatio {
		return Resolution{Value: catalog[best], Kind: MatchFuzzy, Ratio: bestRatio}
	}

	return Resolution{Value: s, Kind: MatchNone, Ratio: bestRatio}
}
