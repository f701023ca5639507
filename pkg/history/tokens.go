package history

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens the way OpenAI chat models do.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter for the model. All models are
// approximated with the GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// TokenCount sums the tokens of every message's content.
func (h *History) TokenCount(tc *TokenCounter) int {
	total := 0
	for _, m := range h.Messages() {
		total += tc.Count(string(m.Content))
	}
	return total
}
