// Package tokenizer provides the token counting service used to enforce
// message and context budgets. The default counter approximates the OpenAI
// cl100k_base vocabulary; callers only rely on the Count contract.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter reports the token footprint of a piece of text.
type Counter interface {
	Count(text string) int
}

// Per-message accounting constants for chat-style payloads.
const (
	TokensPerMessage = 3
	TokensPerName    = 1
	ReplyPrimer      = 3
)

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// approxCounter estimates tokens when the BPE vocabulary is unavailable
// (offline environments). Roughly four bytes per token, never less than one
// token per non-empty rune sequence.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 && utf8.RuneCountInString(text) > 0 {
		n = 1
	}
	return n
}

// NewCL100K returns a cl100k_base-backed counter, falling back to a byte
// heuristic when the encoding cannot be loaded.
func NewCL100K() Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return approxCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// NewApprox returns the heuristic counter. Useful in tests where the exact
// vocabulary is irrelevant.
func NewApprox() Counter {
	return approxCounter{}
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns the process-wide counter, constructed lazily on first use.
func Default() Counter {
	defaultOnce.Do(func() {
		defaultCounter = NewCL100K()
	})
	return defaultCounter
}
