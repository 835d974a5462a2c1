package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/chunker"
)

func transcriptOf(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunker_WindowScenario(t *testing.T) {
	// 1000 tokens, chunk_size=512, overlap=0.2 -> step 410, chunks at
	// 0/410/820, last chunk 180 tokens.
	c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: 512, OverlapRatio: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 410, c.Step())

	chunks, err := c.Chunk(models.Talk{ID: "talk-a", Transcript: transcriptOf(1000)})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].StartToken)
	assert.Equal(t, 512, chunks[0].EndToken)
	assert.Equal(t, 410, chunks[1].StartToken)
	assert.Equal(t, 922, chunks[1].EndToken)
	assert.Equal(t, 820, chunks[2].StartToken)
	assert.Equal(t, 1000, chunks[2].EndToken)
	assert.Equal(t, 180, chunks[2].EndToken-chunks[2].StartToken)

	assert.Equal(t, "talk-a:0", chunks[0].ID())
	assert.Equal(t, "talk-a:2", chunks[2].ID())
}

func TestChunker_CoverageAndOverlap(t *testing.T) {
	cases := []struct {
		size    int
		overlap float64
		tokens  int
	}{
		{size: 512, overlap: 0.2, tokens: 1000},
		{size: 100, overlap: 0.5, tokens: 731},
		{size: 64, overlap: 0, tokens: 257},
		{size: 2048, overlap: 0.2, tokens: 5000},
	}

	for _, tc := range cases {
		name := fmt.Sprintf("size=%d overlap=%.1f tokens=%d", tc.size, tc.overlap, tc.tokens)
		t.Run(name, func(t *testing.T) {
			c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: tc.size, OverlapRatio: tc.overlap})
			require.NoError(t, err)

			chunks, err := c.Chunk(models.Talk{ID: "t", Transcript: transcriptOf(tc.tokens)})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			// Full coverage, no gaps.
			assert.Equal(t, 0, chunks[0].StartToken)
			assert.Equal(t, tc.tokens, chunks[len(chunks)-1].EndToken)
			for i := 1; i < len(chunks); i++ {
				assert.LessOrEqual(t, chunks[i].StartToken, chunks[i-1].EndToken,
					"gap between chunk %d and %d", i-1, i)
				assert.Equal(t, i, chunks[i].Ordinal)
			}

			// Adjacent overlap matches the configured fraction within one
			// token of rounding, except at the truncated final chunk.
			want := float64(tc.size) * tc.overlap
			for i := 1; i < len(chunks)-1; i++ {
				got := chunks[i-1].EndToken - chunks[i].StartToken
				assert.InDelta(t, want, float64(got), 1.0)
			}

			// No chunk is empty.
			for _, ch := range chunks {
				assert.Greater(t, ch.EndToken, ch.StartToken)
				assert.NotEmpty(t, ch.Text)
			}
		})
	}
}

func TestChunker_ShortTranscript(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: 512, OverlapRatio: 0.2})
	require.NoError(t, err)

	chunks, err := c.Chunk(models.Talk{ID: "short", Transcript: "just a few words here"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartToken)
	assert.Equal(t, 5, chunks[0].EndToken)
	assert.Equal(t, "just a few words here", chunks[0].Text)
}

func TestChunker_MetadataInherited(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: 4, OverlapRatio: 0.25})
	require.NoError(t, err)

	talk := models.Talk{
		ID:         "talk-b",
		Title:      "Do schools kill creativity?",
		Speaker:    "Ken Robinson",
		URL:        "https://example.org/talks/talk-b",
		Views:      47000000,
		Topics:     []string{"education", "creativity"},
		Transcript: transcriptOf(10),
	}

	chunks, err := c.Chunk(talk)
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.Equal(t, talk.Title, ch.Meta.Title)
		assert.Equal(t, talk.Speaker, ch.Meta.Speaker)
		assert.Equal(t, talk.URL, ch.Meta.URL)
		assert.Equal(t, talk.Views, ch.Meta.Views)
		assert.Equal(t, talk.Topics, ch.Meta.Topics)
	}
}

func TestChunker_InvalidConfig(t *testing.T) {
	cases := []chunker.Config{
		{ChunkSize: 0, OverlapRatio: 0.2},
		{ChunkSize: -5, OverlapRatio: 0.2},
		{ChunkSize: 100, OverlapRatio: 1.0},
		{ChunkSize: 100, OverlapRatio: -0.1},
	}
	for _, cfg := range cases {
		_, err := chunker.NewWithConfig(cfg)
		var invalid *types.InvalidInputError
		require.ErrorAs(t, err, &invalid)
	}
}

func TestChunker_EmptyTranscript(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: 100, OverlapRatio: 0.2})
	require.NoError(t, err)

	_, err = c.Chunk(models.Talk{ID: "empty", Transcript: "   "})
	var invalid *types.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestWords_RoundTrip(t *testing.T) {
	tok := chunker.Words{}
	tokens := tok.Encode("  the   quick brown\nfox ")
	assert.Equal(t, []string{"the", "quick", "brown", "fox"}, tokens)
	assert.Equal(t, "quick brown", tok.Join(tokens[1:3]))
}
