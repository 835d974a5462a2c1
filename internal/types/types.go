package types

import (
	"context"

	"github.com/talkbase/talkbase/internal/models"
)

// Embedder turns texts into fixed-dimension vectors, one per input text,
// order preserved. Implementations batch and retry internally; exhaustion
// surfaces as an UnavailableError for CapabilityEmbedding.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension declares the vector dimension so the index adapter can
	// validate compatibility at startup.
	Dimension() int
}

// VectorIndex stores (vector, metadata) entries and serves top-k cosine
// similarity queries, descending by score, ties broken by id ascending.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []models.IndexEntry) error
	Delete(ctx context.Context, ids []string) error

	// DeleteFrom removes every chunk of a talk at or beyond the given
	// ordinal. Ingestion uses it to drop obsolete trailing chunks when a
	// re-ingested transcript shrinks.
	DeleteFrom(ctx context.Context, talkID string, fromOrdinal int) error

	Query(ctx context.Context, vector []float32, k int) ([]models.Match, error)
	Close()
}

// Generator produces a free-text answer from a structured prompt. One call
// per request, no conversation state.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Tokenizer converts a transcript into tokens and joins token runs back
// into text. Chunk spans are offsets into the token slice it returns.
type Tokenizer interface {
	Encode(text string) []string
	Join(tokens []string) string
}
