package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Words tokenizes on whitespace. Deterministic and dependency-free, which
// makes it the default for local runs and tests.
type Words struct{}

func (Words) Encode(text string) []string {
	return strings.Fields(text)
}

func (Words) Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// Tiktoken tokenizes with a BPE encoding so chunk sizes line up with what
// hosted embedding and generation models count as tokens.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, defaulting to cl100k_base.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode returns the text of each BPE token so spans can be joined back
// into chunk text without re-encoding.
func (t *Tiktoken) Encode(text string) []string {
	ids := t.enc.Encode(text, nil, nil)
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = t.enc.Decode([]int{id})
	}
	return tokens
}

func (t *Tiktoken) Join(tokens []string) string {
	return strings.Join(tokens, "")
}
