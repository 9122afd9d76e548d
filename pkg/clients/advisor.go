package clients

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// SimilarAdvisorThreshold is the Jaro-Winkler score above which two
// advisor names are reported as likely the same person.
const SimilarAdvisorThreshold = 0.90

// Advisors returns the distinct non-blank advisors of rows in first-seen order.
func Advisors(rows []Client) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range rows {
		a := rows[i].Asesor
		if strings.TrimSpace(a) == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// MatchAdvisor returns the existing spelling of name when one of existing
// normalizes the same way. Otherwise it returns name with each word
// title-cased. Blank input gives "".
func MatchAdvisor(name string, existing []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	key := catalog.Normalize(name)
	for _, a := range existing {
		if strings.TrimSpace(a) == "" {
			continue
		}
		if catalog.Normalize(a) == key {
			return a
		}
	}

	caser := cases.Title(language.Und)
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// SimilarAdvisors lists existing advisors that are close to name without
// being equal to it after normalization, best first.
func SimilarAdvisors(name string, existing []string, threshold float64) []string {
	key := catalog.Normalize(name)
	if key == "" {
		return nil
	}
	type scored struct {
		name  string
		score float32
	}
	var found []scored
	for _, a := range existing {
		ak := catalog.Normalize(a)
		if ak == "" || ak == key {
			continue
		}
		s, err := edlib.StringsSimilarity(key, ak, edlib.JaroWinkler)
		if err != nil || float64(s) < threshold {
			continue
		}
		found = append(found, scored{a, s})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out
}
