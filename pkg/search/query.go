package search

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Group is one AND-combination of conditions. A query matches a candidate
// when any of its groups does.
type Group struct {
	Required []string `json:"required,omitempty"`
	Phrases  []string `json:"phrases,omitempty"`
	Excluded []string `json:"excluded,omitempty"`
}

var phraseRe = regexp.MustCompile(`"([^"]+)"`)

// Parse splits query into OR groups on commas. Inside a group, quoted text
// is a required phrase, "-x" or "!x" excludes x, "x*" is an explicit prefix
// term and any other word is required. Everything is normalized; the "*"
// marker is kept on the term. A blank query yields no groups.
func Parse(query string) []Group {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var groups []Group
	for _, part := range strings.Split(query, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var g Group
		for _, m := range phraseRe.FindAllStringSubmatch(part, -1) {
			g.Phrases = append(g.Phrases, catalog.Normalize(m[1]))
		}
		rest := phraseRe.ReplaceAllLiteralString(part, " ")

		for _, tok := range strings.Fields(rest) {
			neg := strings.HasPrefix(tok, "-") || strings.HasPrefix(tok, "!")
			if neg {
				tok = tok[1:]
			}
			term := catalog.Normalize(tok)
			if term == "" {
				continue
			}
			if neg {
				g.Excluded = append(g.Excluded, term)
			} else {
				g.Required = append(g.Required, term)
			}
		}
		groups = append(groups, g)
	}
	return groups
}
