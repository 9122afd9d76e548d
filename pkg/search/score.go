package search

import (
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Weights added per satisfied condition.
const (
	WeightPhrase         = 3.0
	WeightToken          = 2.0
	WeightExplicitPrefix = 1.6
	WeightPrefix         = 1.4
	WeightSubstring      = 1.2
	WeightInitials       = 1.0
	WeightFuzzy          = 0.8

	// FuzzyTermRatio is the minimum ratio between a term and a whole
	// normalized option for a typo-tolerant hit.
	FuzzyTermRatio = 0.82
)

// Score evaluates group against the option at position i. ok is false when
// an exclusion hits or any phrase or term is unsatisfied.
func (idx *Index) Score(i int, g Group) (score float64, ok bool) {
	norm := idx.norms[i]

	for _, ex := range g.Excluded {
		base := strings.TrimRight(ex, "*")
		if idx.anyTokenHasPrefix(i, base) || strings.Contains(norm, base) {
			return 0, false
		}
	}

	for _, ph := range g.Phrases {
		if !strings.Contains(norm, ph) {
			return 0, false
		}
		score += WeightPhrase
	}

	for _, term := range g.Required {
		w, hit := idx.termWeight(i, term)
		if !hit {
			return 0, false
		}
		score += w
	}
	return score, true
}

func (idx *Index) termWeight(i int, term string) (float64, bool) {
	explicit := strings.HasSuffix(term, "*")
	base := strings.TrimRight(term, "*")
	norm := idx.norms[i]

	switch {
	case idx.hasToken(i, base):
		return WeightToken, true
	case idx.anyTokenHasPrefix(i, base):
		if explicit {
			return WeightExplicitPrefix, true
		}
		return WeightPrefix, true
	case strings.Contains(norm, base):
		return WeightSubstring, true
	case strings.HasPrefix(idx.initials[i], base):
		return WeightInitials, true
	case catalog.Ratio(base, norm) >= FuzzyTermRatio:
		return WeightFuzzy, true
	}
	return 0, false
}

// lengthBonus is a small stable tie-breaker favouring longer display text.
func lengthBonus(option string) float64 {
	return min(0.5, float64(len([]rune(option)))/200)
}
