package retriever

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// Config controls query-time retrieval.
type Config struct {
	// TopK is the default number of chunks returned per question.
	TopK int
	// OverfetchFactor widens the index query to TopK*OverfetchFactor
	// candidates so same-talk deduplication cannot starve the result set.
	OverfetchFactor int
	Logger          zerolog.Logger
}

// Retriever embeds a question, queries the vector index, and returns
// ranked, deduplicated context chunks.
type Retriever struct {
	embedder types.Embedder
	index    types.VectorIndex
	config   Config
	log      zerolog.Logger
}

// New wires a Retriever from its injected capabilities.
func New(embedder types.Embedder, index types.VectorIndex, config Config) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.OverfetchFactor <= 0 {
		config.OverfetchFactor = 3
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		config:   config,
		log:      config.Logger.With().Str("component", "retriever").Logger(),
	}
}

// TopK returns the configured default top-k.
func (r *Retriever) TopK() int {
	return r.config.TopK
}

// Retrieve returns up to topK context chunks for the question, score
// descending, with no two chunks sharing an overlapping span of the same
// talk. A scarce or empty index yields a short or empty context, not an
// error; adapter faults propagate as typed unavailable errors.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (models.RetrievedContext, error) {
	if strings.TrimSpace(question) == "" {
		return models.RetrievedContext{}, &types.InvalidInputError{
			Field:   "question",
			Message: "question must not be empty",
		}
	}
	if topK <= 0 {
		topK = r.config.TopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return models.RetrievedContext{}, err
	}

	matches, err := r.index.Query(ctx, vectors[0], topK*r.config.OverfetchFactor)
	if err != nil {
		return models.RetrievedContext{}, err
	}

	// The index contract already orders by (score desc, id asc); re-assert
	// locally so deduplication stays deterministic across implementations.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	kept := make([]models.RetrievedChunk, 0, topK)
	for _, m := range matches {
		if len(kept) == topK {
			break
		}
		if overlapsKept(kept, m.Chunk) {
			continue
		}
		kept = append(kept, models.RetrievedChunk{Chunk: m.Chunk, Score: m.Score})
	}

	r.log.Debug().Int("candidates", len(matches)).Int("kept", len(kept)).
		Msg("retrieved context")
	return models.RetrievedContext{Chunks: kept}, nil
}

// overlapsKept reports whether the candidate's span overlaps a kept chunk
// of the same talk. Candidates arrive score-descending, so the kept chunk
// is always the higher-scoring one.
func overlapsKept(kept []models.RetrievedChunk, candidate models.Chunk) bool {
	for _, k := range kept {
		if k.Chunk.Overlaps(candidate) {
			return true
		}
	}
	return false
}
