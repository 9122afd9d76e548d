package search

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  []Group
	}{
		{"", nil},
		{"   ", nil},
		{" , ,", nil},
		{"juan", []Group{{Required: []string{"juan"}}}},
		{
			`juan "San  Pedro", -perez !LÓPEZ vent*`,
			[]Group{
				{Required: []string{"juan"}, Phrases: []string{"san pedro"}},
				{Required: []string{"vent*"}, Excluded: []string{"perez", "lopez"}},
			},
		},
		{"- !", []Group{{}}},
		{`Ñ "Á"`, []Group{{Required: []string{"n"}, Phrases: []string{"a"}}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.query), "Parse(%q)", tt.query)
	}
}

func TestIndex(t *testing.T) {
	idx := Build([]string{"Juan Pérez García", "juan juan", "", "Ana"})

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, "juan perez garcia", idx.Normalized(0))
	assert.Equal(t, "jpg", idx.Initials(0))
	assert.Equal(t, "jj", idx.Initials(1))
	assert.Equal(t, []int{0, 1}, idx.Postings("JUAN"))
	assert.Empty(t, idx.Postings("nadie"))
	assert.Equal(t, []int{0, 1}, idx.Bucket("j"))
	assert.Equal(t, []int{3}, idx.Bucket("Ávila"))
	assert.Equal(t, []int{2}, idx.Bucket(""))

	opts := idx.Options()
	opts[0] = "changed"
	assert.Equal(t, "Juan Pérez García", idx.Option(0))
}

func TestScore(t *testing.T) {
	idx := Build([]string{"Juan Pérez García", "Ventanilla"})
	tests := []struct {
		name  string
		i     int
		group Group
		want  float64
		ok    bool
	}{
		{"exact token", 0, Group{Required: []string{"juan"}}, WeightToken, true},
		{"token prefix", 0, Group{Required: []string{"gar"}}, WeightPrefix, true},
		{"explicit prefix", 0, Group{Required: []string{"gar*"}}, WeightExplicitPrefix, true},
		{"substring", 0, Group{Required: []string{"rez"}}, WeightSubstring, true},
		{"initials", 0, Group{Required: []string{"jpg"}}, WeightInitials, true},
		{"fuzzy", 1, Group{Required: []string{"ventanila"}}, WeightFuzzy, true},
		{"no hit", 1, Group{Required: []string{"juan"}}, 0, false},
		{"all terms required", 0, Group{Required: []string{"juan", "maria"}}, 0, false},
		{"phrase", 0, Group{Phrases: []string{"perez garcia"}, Required: []string{"juan"}}, WeightPhrase + WeightToken, true},
		{"missing phrase", 0, Group{Phrases: []string{"garcia perez"}}, 0, false},
		{"excluded by token prefix", 0, Group{Required: []string{"juan"}, Excluded: []string{"per"}}, 0, false},
		{"excluded by substring", 0, Group{Required: []string{"juan"}, Excluded: []string{"rez*"}}, 0, false},
		{"exclusion not present", 0, Group{Required: []string{"juan"}, Excluded: []string{"lopez"}}, WeightToken, true},
		{"empty group", 1, Group{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := idx.Score(tt.i, tt.group)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSearchScenario(t *testing.T) {
	idx := Build([]string{"Juan Lopez", "Juan Perez", "Ana Juan"})
	assert.Equal(t, []string{"Juan Lopez", "Ana Juan"}, Search("juan -perez", idx, 0))
	assert.Equal(t, []string{"Juan Lopez", "Ana Juan"}, Search("lopez, ana", idx, 0))
	assert.Equal(t, []string{"Juan Perez"}, Search(`"juan perez"`, idx, 0))
}

func TestSearchRanking(t *testing.T) {
	idx := Build([]string{"Juana", "Juan", "Ana Juan"})
	hits := Rank("juan", idx, 0)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"Ana Juan", "Juan", "Juana"}, []string{hits[0].Option, hits[1].Option, hits[2].Option})
	assert.InDelta(t, 2.04, hits[0].Score, 1e-9)
	assert.InDelta(t, WeightPrefix+5.0/200, hits[2].Score, 1e-9)

	long := Build([]string{"x", string(slices.Repeat([]rune("y"), 300))})
	h := Rank("*", long, 0)
	require.Len(t, h, 2)
	assert.InDelta(t, WeightExplicitPrefix+0.5, h[0].Score, 1e-9, "length bonus is capped")
}

func TestSearchEmptyQueryReturnsAll(t *testing.T) {
	lists := [][]string{
		{"b", "a", "c"},
		{"dup", "dup", ""},
		{},
	}
	for _, l := range lists {
		idx := Build(l)
		assert.Equal(t, l, append([]string{}, Search("", idx, 0)...))
		assert.Equal(t, l, append([]string{}, Search("  \t", idx, 0)...))
		assert.Equal(t, l, append([]string{}, Search(",", idx, 0)...))
	}
}

func TestSearchFindsEveryOption(t *testing.T) {
	opts := []string{
		"Juan -Perez", `"quoted"`, ",", "", "vent*", "!", "EN REVISIÓN",
		"Ana, María", "PEND.DOC.PARA EVALUACION", "-", "a b c",
	}
	idx := Build(opts)
	for _, e := range opts {
		assert.Contains(t, Search(e, idx, 0), e, "query %q", e)
	}
}

func TestSearchFallback(t *testing.T) {
	idx := Build([]string{"Propuesta", "Dispersado", "Dispersado"})
	hits := Rank("dispresado xx", idx, 0)
	require.Len(t, hits, 2)
	assert.Equal(t, []int{1, 2}, []int{hits[0].Index, hits[1].Index})
	assert.Greater(t, hits[0].Score, FallbackCutoff)

	nothing := Build([]string{"abc", "def"})
	assert.Equal(t, []string{"abc", "def"}, Search("zzzz", nothing, 0))
	assert.Empty(t, Search("zzzz", Build(nil), 0))
}

func TestSearchLimit(t *testing.T) {
	idx := Build([]string{"a1", "a2", "a3"})
	assert.Equal(t, []string{"a1"}, Search("", idx, 1))
	assert.Len(t, Search("a", idx, 2), 2)
	assert.Len(t, Search("a", idx, -1), 3)
	assert.Len(t, Search("zzzz", idx, 2), 2)
}

func TestLengthBonus(t *testing.T) {
	assert.InDelta(t, 0.025, lengthBonus("ñandú"), 1e-9)
	assert.Equal(t, 0.5, lengthBonus(string(make([]rune, 101))))
	assert.False(t, math.IsNaN(lengthBonus("")))
}

func TestRankOutcome(t *testing.T) {
	idx := Build([]string{"Propuesta", "Dispersado"})
	tests := []struct {
		query string
		want  Outcome
	}{
		{"", OutcomeAll},
		{" , ", OutcomeAll},
		{"prop", OutcomeMatch},
		{"dispresado xx", OutcomeFallback},
		{"zzzz", OutcomeFallback},
	}
	for _, tt := range tests {
		_, got := RankOutcome(tt.query, idx, 0)
		assert.Equal(t, tt.want, got, "query %q", tt.query)
	}
}
