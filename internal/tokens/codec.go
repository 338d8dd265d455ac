// Package tokens counts and trims text against a token budget.
package tokens

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultModel is the model whose encoding sizes completion context.
const DefaultModel = "gpt-4o-mini"

// codecForModel returns the tokenizer codec for a model, falling back to the
// encoding family implied by the model prefix.
func codecForModel(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	codec, err := tokenizer.Get(modelToEncoding(model))
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return codec, nil
}

// modelToEncoding maps model names to encoding names.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O-series and unknown newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo, text-embedding-*
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-35"),
		strings.HasPrefix(model, "gpt-3.5"), strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
