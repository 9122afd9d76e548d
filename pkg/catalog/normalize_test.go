package catalog

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", ""},
		{"   ", ""},
		{"DISPERSADO", "dispersado"},
		{"É", "e"},
		{"  Juan   PÉREZ \t", "juan perez"},
		{"EN REVISIÓN", "en revision"},
		{"Ñoño", "nono"},
		{"Straße", "strasse"},
		{"İstanbul", "istanbul"},
		{"ﬁnanciera", "financiera"},
		{"a  b", "a b"},
		{"¨a", "a"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "x", " Ä  é ", "İ", "ß", "ǅ", "¨ ¨", "PEND.DOC.PARA EVALUACION",
		"RECH. TIPO PENSION", "ｆｕｌｌｗｉｄｔｈ", "Ⅻ", "a\tb\nc", "ﬀ", "Σίσυφος",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestEquivalent(t *testing.T) {
	if !Equivalent("En Revisión", " en  revision") {
		t.Error("expected accent/case/space-insensitive equivalence")
	}
	if Equivalent("ae", " Ä  é ") {
		t.Error("base letters must still differ")
	}
}
