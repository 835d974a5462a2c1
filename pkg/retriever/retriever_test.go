package retriever_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/retriever"
	"github.com/talkbase/talkbase/pkg/store"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int { return len(f.vector) }

func chunkEntry(talkID string, ordinal, start, end int, vec []float32) models.IndexEntry {
	c := models.Chunk{
		TalkID:     talkID,
		Ordinal:    ordinal,
		StartToken: start,
		EndToken:   end,
		Text:       "text",
	}
	return models.IndexEntry{ID: c.ID(), Vector: vec, Chunk: c}
}

func TestRetriever_TopKAccessor(t *testing.T) {
	idx := store.NewMemoryIndex(2)

	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{TopK: 7})
	assert.Equal(t, 7, r.TopK())

	// Unset falls back to the default.
	r = retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{})
	assert.Equal(t, 5, r.TopK())
}

func TestRetriever_TopKAndOrdering(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
		chunkEntry("a", 0, 0, 100, []float32{1, 0.1}),
		chunkEntry("b", 0, 0, 100, []float32{1, 0.3}),
		chunkEntry("c", 0, 0, 100, []float32{1, 0.5}),
		chunkEntry("d", 0, 0, 100, []float32{1, 0.7}),
	}))

	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{TopK: 2})
	rc, err := r.Retrieve(ctx, "question", 0)
	require.NoError(t, err)
	require.Len(t, rc.Chunks, 2)

	assert.Equal(t, "a:0", rc.Chunks[0].Chunk.ID())
	assert.Equal(t, "b:0", rc.Chunks[1].Chunk.ID())
	assert.GreaterOrEqual(t, rc.Chunks[0].Score, rc.Chunks[1].Score)
}

func TestRetriever_NoDuplicateSpans(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	// Two overlapping spans of the same talk, one disjoint span.
	require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
		chunkEntry("a", 0, 0, 512, []float32{1, 0.1}),
		chunkEntry("a", 1, 410, 922, []float32{1, 0.2}),
		chunkEntry("a", 2, 1000, 1500, []float32{1, 0.3}),
	}))

	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{TopK: 3})
	rc, err := r.Retrieve(ctx, "question", 3)
	require.NoError(t, err)
	require.Len(t, rc.Chunks, 2)

	// a:1 overlaps the higher-scoring a:0 and is dropped; a:2 is disjoint
	// and stays.
	assert.Equal(t, "a:0", rc.Chunks[0].Chunk.ID())
	assert.Equal(t, "a:2", rc.Chunks[1].Chunk.ID())
}

func TestRetriever_DiversityScenario(t *testing.T) {
	// Five chunks from two talks: talk A outscores talk B except that one
	// B chunk is non-overlapping with the top A chunk and must survive.
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
		chunkEntry("a", 0, 0, 100, []float32{1, 0.05}),  // top
		chunkEntry("a", 1, 80, 180, []float32{1, 0.1}),  // overlaps a:0
		chunkEntry("a", 2, 200, 300, []float32{1, 0.2}), // disjoint from a:0
		chunkEntry("b", 0, 0, 100, []float32{1, 0.3}),   // different talk
		chunkEntry("b", 1, 80, 180, []float32{1, 0.9}),  // lowest, overlaps b:0
	}))

	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{TopK: 3})
	rc, err := r.Retrieve(ctx, "question", 3)
	require.NoError(t, err)
	require.Len(t, rc.Chunks, 3)

	assert.Equal(t, "a:0", rc.Chunks[0].Chunk.ID())
	assert.Equal(t, "a:2", rc.Chunks[1].Chunk.ID())
	assert.Equal(t, "b:0", rc.Chunks[2].Chunk.ID())

	// Deterministic on repeat.
	again, err := r.Retrieve(ctx, "question", 3)
	require.NoError(t, err)
	require.Len(t, again.Chunks, 3)
	for i := range rc.Chunks {
		assert.Equal(t, rc.Chunks[i].Chunk.ID(), again.Chunks[i].Chunk.ID())
	}
}

func TestRetriever_EmptyIndex(t *testing.T) {
	idx := store.NewMemoryIndex(2)
	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{})

	rc, err := r.Retrieve(context.Background(), "question", 5)
	require.NoError(t, err)
	assert.True(t, rc.Empty())
}

func TestRetriever_PropagatesEmbedderFault(t *testing.T) {
	idx := store.NewMemoryIndex(2)
	emb := &fixedEmbedder{
		vector: []float32{1, 0},
		err:    types.Unavailable(types.CapabilityEmbedding, errors.New("timeout")),
	}
	r := retriever.New(emb, idx, retriever.Config{})

	_, err := r.Retrieve(context.Background(), "question", 5)
	require.Error(t, err)
	assert.True(t, types.IsUnavailable(err, types.CapabilityEmbedding))
}

func TestRetriever_EmptyQuestion(t *testing.T) {
	idx := store.NewMemoryIndex(2)
	r := retriever.New(&fixedEmbedder{vector: []float32{1, 0}}, idx, retriever.Config{})

	_, err := r.Retrieve(context.Background(), "   ", 5)
	var invalid *types.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}
