package tokens

import (
	"log/slog"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// CharsPerToken is the ratio used when no tokenizer is available.
const CharsPerToken = 4

// Trimmer cuts text down to a token budget, keeping the most recent content.
// It is safe for concurrent use.
type Trimmer struct {
	codec tokenizer.Codec
}

// NewTrimmer creates a trimmer using the encoding for model. When the
// encoding cannot be loaded the trimmer uses the character estimate.
func NewTrimmer(model string, logger *slog.Logger) *Trimmer {
	if model == "" {
		model = DefaultModel
	}
	codec, err := codecForModel(model)
	if err != nil {
		if logger != nil {
			logger.Warn("tokenizer unavailable, using character estimate",
				slog.String("model", model),
				slog.String("error", err.Error()))
		}
		return &Trimmer{}
	}
	return &Trimmer{codec: codec}
}

// NewEstimatingTrimmer creates a trimmer that only uses the character estimate.
func NewEstimatingTrimmer() *Trimmer {
	return &Trimmer{}
}

// Count returns the token count of text.
func (t *Trimmer) Count(text string) int {
	if t.codec != nil {
		if ids, _, err := t.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return estimate(text)
}

// Trim returns text unchanged if it fits budget, otherwise the longest
// suffix found whose count fits budget. It never fails.
func (t *Trimmer) Trim(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if t.codec == nil {
		return trimByChars(text, budget)
	}

	ids, toks, err := t.codec.Encode(text)
	if err != nil || len(toks) != len(ids) {
		return trimByChars(text, budget)
	}
	if len(ids) <= budget {
		return text
	}

	keep := budget
	for keep > 0 {
		size := 0
		for _, tok := range toks[len(toks)-keep:] {
			size += len(tok)
		}
		cut := len(text) - size
		if cut < 0 || cut > len(text) {
			return trimByChars(text, budget)
		}
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}

		out := text[cut:]
		// Re-encoding a suffix can merge differently; shrink until it fits.
		if t.Count(out) <= budget {
			return out
		}
		keep--
	}
	return ""
}

func estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

func trimByChars(text string, budget int) string {
	limit := budget * CharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := len(text)
	for i := 0; i < limit; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:cut])
		cut -= size
	}
	return text[cut:]
}
