package analyzer

import (
	"reflect"
	"testing"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return a
}

// TestAnalyzeLatin checks lowercasing and boundary splitting on plain text.
func TestAnalyzeLatin(t *testing.T) {
	a := newTestAnalyzer(t)
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hello World", []string{"hello", "world"}},
		{"punctuation", "go-lang, v1.22!", []string{"go", "lang", "v1", "22"}},
		{"collapses separators", "a  --  b", []string{"a", "b"}},
		{"digits kept", "room 404", []string{"room", "404"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.Analyze(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Analyze(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

// TestAnalyzeEmpty verifies empty and whitespace-only input produce an empty
// sequence rather than an error or nil panic.
func TestAnalyzeEmpty(t *testing.T) {
	a := newTestAnalyzer(t)
	for _, in := range []string{"", "   ", "\t\n"} {
		if got := a.Analyze(in); len(got) != 0 {
			t.Errorf("Analyze(%q) = %v, want empty", in, got)
		}
	}
}

// TestAnalyzeJapanese verifies morphological segmentation splits text that
// has no whitespace word boundaries.
func TestAnalyzeJapanese(t *testing.T) {
	a := newTestAnalyzer(t)
	got := a.Analyze("すもももももももものうち")
	want := []string{"すもも", "も", "もも", "も", "もも", "の", "うち"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Analyze = %v, want %v", got, want)
	}
}

// TestAnalyzeMixed checks that Latin runs inside Japanese text are still
// lowercased and boundary-split.
func TestAnalyzeMixed(t *testing.T) {
	a := newTestAnalyzer(t)
	got := a.Analyze("Goで検索エンジン")
	for _, tok := range got {
		if tok == "" {
			t.Fatalf("Analyze produced an empty token: %v", got)
		}
	}
	if got[0] != "go" {
		t.Errorf("first token = %q, want %q (lowercased)", got[0], "go")
	}
}

// TestAnalyzeDeterministic confirms repeated calls yield identical sequences,
// which the postings/query contract depends on.
func TestAnalyzeDeterministic(t *testing.T) {
	a := newTestAnalyzer(t)
	in := "Determinism matters: 東京都に住む search engines"
	first := a.Analyze(in)
	for i := 0; i < 5; i++ {
		if got := a.Analyze(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: Analyze = %v, want %v", i, got, first)
		}
	}
}
