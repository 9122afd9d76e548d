package search

import (
	"sort"
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Fallback tuning when no group matches anything.
const (
	FallbackCutoff = 0.6
	FallbackMax    = 12
)

// Outcome tells which path of Rank produced the hits.
type Outcome string

const (
	// OutcomeAll is a blank query: every option in order.
	OutcomeAll Outcome = "all"
	// OutcomeMatch is a query that scored at least one option.
	OutcomeMatch Outcome = "match"
	// OutcomeFallback is a query that scored nothing and fell back to
	// close matches, or to every option when none was close.
	OutcomeFallback Outcome = "fallback"
)

// Hit is one ranked option.
type Hit struct {
	Index  int     `json:"index"`
	Option string  `json:"option"`
	Score  float64 `json:"score"`
}

// Search returns the options of idx ranked against query. limit <= 0 means
// no limit. The result is never empty for a non-empty index when unbounded.
func Search(query string, idx *Index, limit int) []string {
	hits := Rank(query, idx, limit)
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Option
	}
	return out
}

// Rank is Search with positions and scores. Unscored results (blank query,
// fallback) carry a zero score, or the fuzzy ratio for close matches.
func Rank(query string, idx *Index, limit int) []Hit {
	hits, _ := RankOutcome(query, idx, limit)
	return hits
}

// RankOutcome is Rank that also reports which path produced the hits.
func RankOutcome(query string, idx *Index, limit int) ([]Hit, Outcome) {
	if strings.TrimSpace(query) == "" {
		return truncate(all(idx), limit), OutcomeAll
	}
	groups := Parse(query)
	if len(groups) == 0 {
		return truncate(all(idx), limit), OutcomeAll
	}

	whole := catalog.Normalize(query)
	var hits []Hit
	for i := range idx.options {
		best, matched := 0.0, false
		for _, g := range groups {
			if s, ok := idx.Score(i, g); ok {
				matched = true
				best = max(best, s)
			}
		}
		// The literal text of an option always finds that option, even when
		// it reads as an exclusion.
		if !matched && idx.norms[i] != whole {
			continue
		}
		hits = append(hits, Hit{Index: i, Option: idx.options[i], Score: best + lengthBonus(idx.options[i])})
	}

	if len(hits) == 0 {
		return truncate(fallback(query, idx), limit), OutcomeFallback
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	return truncate(hits, limit), OutcomeMatch
}

func fallback(query string, idx *Index) []Hit {
	q := catalog.Normalize(strings.ReplaceAll(query, `"`, ""))
	near := catalog.CloseMatches(q, idx.norms, min(FallbackMax, len(idx.norms)), FallbackCutoff)
	if len(near) == 0 {
		return all(idx)
	}
	hits := make([]Hit, len(near))
	for i, m := range near {
		hits[i] = Hit{Index: m.Index, Option: idx.options[m.Index], Score: m.Ratio}
	}
	return hits
}

func all(idx *Index) []Hit {
	hits := make([]Hit, len(idx.options))
	for i, opt := range idx.options {
		hits[i] = Hit{Index: i, Option: opt}
	}
	return hits
}

func truncate(hits []Hit, limit int) []Hit {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}
