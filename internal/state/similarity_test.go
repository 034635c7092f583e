package state

import "testing"

func TestNormalizeForComparison(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Nil-pointer DEREF!!", "nil pointer deref"},
		{"  spaced   out  ", "spaced out"},
		{"a.b.c", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeForComparison(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignificantWordsFiltersStopWordsAndShortWords(t *testing.T) {
	words := significantWords("the error is not checked in go")
	if words["the"] || words["is"] || words["not"] || words["in"] || words["go"] {
		t.Errorf("stop words or short words leaked: %v", words)
	}
	if !words["error"] || !words["checked"] {
		t.Errorf("significant words missing: %v", words)
	}
}

func TestIsSimilarFindingExactNormalizedMatch(t *testing.T) {
	if !isSimilarFinding("Nil pointer deref.", "nil POINTER deref") {
		t.Error("normalized-equal texts must match")
	}
}

func TestIsSimilarFindingOverlapBoundary(t *testing.T) {
	// Both sets have four significant words; two are shared, so the overlap
	// ratio is exactly 0.5 and the findings count as the same issue.
	a := "buffer overflow risk in parser"
	b := "buffer overflow breaks the decoder"
	if !isSimilarFinding(a, b) {
		t.Error("overlap ratio of exactly 0.5 must match")
	}

	// One shared word out of four drops below the threshold.
	c := "buffer allocation grows without bound"
	if isSimilarFinding(a, c) {
		t.Error("overlap below 0.5 must not match")
	}
}

func TestIsSimilarFindingEmptySignificantSets(t *testing.T) {
	if isSimilarFinding("the a an", "no or to") {
		t.Error("texts with no significant words must not match unless identical")
	}
	if !isSimilarFinding("the a an", "THE  a an") {
		t.Error("identical-after-normalization texts must match even without significant words")
	}
}
