package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// CharsPerToken is the heuristic for estimating tokens (chars/4)
	CharsPerToken = 4

	fallbackEncoding = "cl100k_base"
)

// TokenCounter estimates how many tokens a provider will bill for text
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates tokens as characters / 4
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// TiktokenCounter counts tokens with a BPE encoding. Loading an encoding may
// fetch its ranks file on first use, so it is opt-in.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for model, falling back to cl100k_base
// for models tiktoken does not know about.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("load token encoding for %s: %w", model, err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
