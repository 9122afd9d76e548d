package catalog

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Ratio is the Ratcliff/Obershelp similarity of a and b in [0,1]:
// twice the number of matched runes over the total rune count.
// Thresholds used across the module (0.6, 0.82, 0.90, 0.92) are tuned to
// this measure, not to edit distance.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(splitRunes(a), splitRunes(b)).Ratio()
}

// CloseMatch is one candidate accepted by CloseMatches.
type CloseMatch struct {
	Index int
	Ratio float64
}

// CloseMatches returns up to n candidates whose ratio against word is at
// least cutoff, best first. Equal ratios are ordered by candidate text
// descending, then by position.
func CloseMatches(word string, candidates []string, n int, cutoff float64) []CloseMatch {
	if n <= 0 {
		return nil
	}
	m := difflib.NewMatcher(nil, splitRunes(word))
	var out []CloseMatch
	for i, c := range candidates {
		m.SetSeq1(splitRunes(c))
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		if r := m.Ratio(); r >= cutoff {
			out = append(out, CloseMatch{Index: i, Ratio: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ratio != out[j].Ratio {
			return out[i].Ratio > out[j].Ratio
		}
		return candidates[out[i].Index] > candidates[out[j].Index]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func splitRunes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "")
}
