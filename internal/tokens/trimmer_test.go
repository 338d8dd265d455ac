package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func sampleDocs(n int) string {
	docs := make([]string, n)
	for i := range docs {
		docs[i] = "Document about retrieval augmented generation, vector search and answer grounding. " +
			"Entry number " + strings.Repeat("x", i%7) + " ends here."
	}
	return strings.Join(docs, "\n\n")
}

func trimmers() map[string]*Trimmer {
	return map[string]*Trimmer{
		"tokenizer": NewTrimmer(DefaultModel, nil),
		"estimate":  NewEstimatingTrimmer(),
	}
}

func TestTrim_IdentityBelowBudget(t *testing.T) {
	for name, tr := range trimmers() {
		t.Run(name, func(t *testing.T) {
			texts := []string{"", "short", sampleDocs(3)}
			for _, text := range texts {
				budget := tr.Count(text)
				if got := tr.Trim(text, budget); got != text {
					t.Errorf("Trim(text, %d) changed text at exact budget", budget)
				}
				if got := tr.Trim(text, budget+100); got != text {
					t.Errorf("Trim(text, %d) changed text below budget", budget+100)
				}
			}
		})
	}
}

func TestTrim_SuffixWithinBudget(t *testing.T) {
	text := sampleDocs(200)

	for name, tr := range trimmers() {
		t.Run(name, func(t *testing.T) {
			for _, budget := range []int{1, 5, 50, 300, 1000} {
				if tr.Count(text) <= budget {
					t.Fatalf("sample too small for budget %d", budget)
				}
				got := tr.Trim(text, budget)
				if !strings.HasSuffix(text, got) {
					t.Errorf("Trim(text, %d) is not a suffix", budget)
				}
				if n := tr.Count(got); n > budget {
					t.Errorf("Trim(text, %d) count = %d", budget, n)
				}
				if got == "" {
					t.Errorf("Trim(text, %d) returned empty text", budget)
				}
			}
		})
	}
}

func TestTrim_KeepsMostRecentContent(t *testing.T) {
	text := strings.Repeat("old content. ", 2000) + "the newest passage"

	for name, tr := range trimmers() {
		t.Run(name, func(t *testing.T) {
			got := tr.Trim(text, 20)
			if !strings.HasSuffix(got, "the newest passage") {
				t.Errorf("Trim() dropped the most recent content: %q", got)
			}
		})
	}
}

func TestTrim_NonPositiveBudget(t *testing.T) {
	for name, tr := range trimmers() {
		t.Run(name, func(t *testing.T) {
			if got := tr.Trim("anything", 0); got != "" {
				t.Errorf("Trim(text, 0) = %q, want empty", got)
			}
		})
	}
}

func TestTrim_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("日本語のテキスト、", 500)

	for name, tr := range trimmers() {
		t.Run(name, func(t *testing.T) {
			got := tr.Trim(text, 10)
			if !strings.HasSuffix(text, got) {
				t.Error("Trim() is not a suffix")
			}
			if !utf8.ValidString(got) {
				t.Error("Trim() split a rune")
			}
		})
	}
}

func TestEstimatingTrimmer_CharRatio(t *testing.T) {
	tr := NewEstimatingTrimmer()
	text := strings.Repeat("a", 100)

	if got := tr.Count(text); got != 25 {
		t.Errorf("Count() = %d, want 25", got)
	}
	got := tr.Trim(text, 10)
	if len(got) != 10*CharsPerToken {
		t.Errorf("Trim() length = %d, want %d", len(got), 10*CharsPerToken)
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"text-embedding-3-small", "cl100k_base"},
		{"some-future-model", "o200k_base"},
	}
	for _, tt := range tests {
		if got := string(modelToEncoding(tt.model)); got != tt.want {
			t.Errorf("modelToEncoding(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}
