package chunker

import (
	"math"

	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// Config controls how transcripts are split into token windows.
type Config struct {
	// ChunkSize is the window size in tokens.
	ChunkSize int
	// OverlapRatio is the fraction of a chunk's span shared with the next
	// chunk, 0 <= r < 1.
	OverlapRatio float64
	// Tokenizer defaults to whitespace words.
	Tokenizer types.Tokenizer
}

// Chunker splits a transcript into overlapping fixed-size token windows.
type Chunker struct {
	config Config
	step   int
}

// NewWithConfig validates the chunking parameters and returns a Chunker.
func NewWithConfig(config Config) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		return nil, &types.InvalidInputError{
			Field:   "chunker.chunk_size",
			Message: "chunk size must be positive",
		}
	}
	if config.OverlapRatio < 0 || config.OverlapRatio >= 1 {
		return nil, &types.InvalidInputError{
			Field:   "chunker.overlap_ratio",
			Message: "overlap ratio must be in [0, 1)",
		}
	}
	if config.Tokenizer == nil {
		config.Tokenizer = Words{}
	}

	step := int(math.Round(float64(config.ChunkSize) * (1 - config.OverlapRatio)))
	if step < 1 {
		step = 1
	}

	return &Chunker{config: config, step: step}, nil
}

// Chunk splits one talk's transcript into ordered chunks. The union of the
// chunk spans covers the full token range with no gaps; adjacent chunks
// overlap by chunk_size - step tokens. A transcript shorter than the chunk
// size yields exactly one chunk. No chunk is ever empty.
func (c *Chunker) Chunk(talk models.Talk) ([]models.Chunk, error) {
	tokens := c.config.Tokenizer.Encode(talk.Transcript)
	if len(tokens) == 0 {
		return nil, &types.InvalidInputError{
			Field:   "talk.transcript",
			Message: "transcript has no tokens",
		}
	}

	meta := talk.Meta()

	var chunks []models.Chunk
	for start := 0; ; start += c.step {
		end := start + c.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}

		chunks = append(chunks, models.Chunk{
			TalkID:     talk.ID,
			Ordinal:    len(chunks),
			StartToken: start,
			EndToken:   end,
			Text:       c.config.Tokenizer.Join(tokens[start:end]),
			Meta:       meta,
		})

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// Step returns the token advance between consecutive chunks.
func (c *Chunker) Step() int {
	return c.step
}
