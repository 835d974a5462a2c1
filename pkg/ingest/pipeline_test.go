package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/chunker"
	"github.com/talkbase/talkbase/pkg/ingest"
	"github.com/talkbase/talkbase/pkg/store"
)

// stubEmbedder returns unit vectors, optionally failing for texts that
// contain a marker.
type stubEmbedder struct {
	failSubstring string
	err           error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if s.failSubstring != "" && strings.Contains(text, s.failSubstring) {
			return nil, s.err
		}
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 2 }

// flakyIndex fails the first failures upserts the way the pgvector adapter
// reports them, then delegates to the wrapped index.
type flakyIndex struct {
	*store.MemoryIndex
	failures int
	attempts int
}

func (f *flakyIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		return &types.UpsertError{
			FailedIDs: ids,
			Err:       types.Unavailable(types.CapabilityIndex, errors.New("connection reset")),
		}
	}
	return f.MemoryIndex.Upsert(ctx, entries)
}

func newChunker(t *testing.T, size int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.NewWithConfig(chunker.Config{ChunkSize: size, OverlapRatio: 0.2})
	require.NoError(t, err)
	return c
}

func talkOfWords(id string, words int) models.Talk {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = id
	}
	return models.Talk{ID: id, Title: id, Transcript: strings.Join(parts, " ")}
}

func TestPipeline_IngestAndReport(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)

	var progressed []string
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{
		OnProgress: func(talkID string, chunks int) {
			progressed = append(progressed, talkID)
		},
	})

	report, err := p.Ingest(ctx, []models.Talk{
		talkOfWords("alpha", 25),
		talkOfWords("beta", 8),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.Equal(t, idx.Len(), report.ChunksWritten)
	assert.Equal(t, []string{"alpha", "beta"}, progressed)
}

func TestPipeline_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{})

	talk := talkOfWords("alpha", 25)
	_, err := p.Ingest(ctx, []models.Talk{talk})
	require.NoError(t, err)
	once := idx.Len()

	_, err = p.Ingest(ctx, []models.Talk{talk})
	require.NoError(t, err)
	assert.Equal(t, once, idx.Len(), "re-ingesting must not grow the index")
}

func TestPipeline_ShrunkenTranscriptDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{})

	_, err := p.Ingest(ctx, []models.Talk{talkOfWords("alpha", 50)})
	require.NoError(t, err)
	before := idx.Len()

	report, err := p.Ingest(ctx, []models.Talk{talkOfWords("alpha", 12)})
	require.NoError(t, err)
	require.Less(t, report.ChunksWritten, before)
	assert.Equal(t, report.ChunksWritten, idx.Len(),
		"stale trailing chunk ids must be deleted")

	matches, err := idx.Query(ctx, []float32{1, 0}, 100)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Less(t, m.Chunk.Ordinal, report.ChunksWritten)
	}
}

func TestPipeline_PerTalkEmbeddingFailureContinues(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	emb := &stubEmbedder{
		failSubstring: "cursed",
		err:           types.Unavailable(types.CapabilityEmbedding, errors.New("request timeout")),
	}
	p := ingest.New(newChunker(t, 10), emb, idx, ingest.Config{})

	report, err := p.Ingest(ctx, []models.Talk{
		talkOfWords("alpha", 12),
		talkOfWords("cursed", 12),
		talkOfWords("beta", 12),
	})
	require.NoError(t, err, "one talk timing out must not abort the run")

	assert.Equal(t, []string{"alpha", "beta"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "cursed", report.Failed[0].TalkID)
	assert.Contains(t, report.Failed[0].Reason, "timeout")
}

func TestPipeline_ConsecutiveEmbeddingFailuresEscalate(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	emb := &stubEmbedder{
		failSubstring: "talk",
		err:           types.Unavailable(types.CapabilityEmbedding, errors.New("connection refused")),
	}
	p := ingest.New(newChunker(t, 10), emb, idx, ingest.Config{ConsecutiveFailureLimit: 2})

	report, err := p.Ingest(ctx, []models.Talk{
		talkOfWords("talk-1", 12),
		talkOfWords("talk-2", 12),
		talkOfWords("talk-3", 12),
	})
	require.Error(t, err)
	assert.True(t, types.IsUnavailable(err, types.CapabilityEmbedding))
	assert.Len(t, report.Failed, 2, "run stops at the escalation threshold")
}

func TestPipeline_IndexUnavailableIsFatal(t *testing.T) {
	ctx := context.Background()
	idx := &flakyIndex{MemoryIndex: store.NewMemoryIndex(2), failures: 1000}
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{UpsertRetries: 2})

	report, err := p.Ingest(ctx, []models.Talk{
		talkOfWords("alpha", 12),
		talkOfWords("beta", 12),
	})
	require.Error(t, err)
	assert.True(t, types.IsUnavailable(err, types.CapabilityIndex))
	require.Len(t, report.Failed, 1, "report flushed with the failure that stopped the run")
	assert.Empty(t, report.Succeeded)
}

func TestPipeline_UpsertBatchRetries(t *testing.T) {
	ctx := context.Background()
	idx := &flakyIndex{MemoryIndex: store.NewMemoryIndex(2), failures: 1}
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{UpsertRetries: 3})

	report, err := p.Ingest(ctx, []models.Talk{talkOfWords("alpha", 8)})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, report.Succeeded)
	assert.Equal(t, 2, idx.attempts)
}

func TestPipeline_MalformedTalkRecorded(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	p := ingest.New(newChunker(t, 10), &stubEmbedder{}, idx, ingest.Config{})

	report, err := p.Ingest(ctx, []models.Talk{
		{ID: "", Transcript: "no id"},
		{ID: "blank", Transcript: "   "},
		talkOfWords("ok", 8),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, report.Succeeded)
	assert.Len(t, report.Failed, 2)
}

// blockingEmbedder parks the first ingestion run so a second one can be
// attempted while it holds the lock.
type blockingEmbedder struct {
	started sync.Once
	Started chan struct{}
	Release chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.started.Do(func() { close(b.Started) })
	<-b.Release
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (b *blockingEmbedder) Dimension() int { return 2 }

func TestPipeline_ConcurrentIngestRejected(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)
	emb := &blockingEmbedder{Started: make(chan struct{}), Release: make(chan struct{})}
	p := ingest.New(newChunker(t, 10), emb, idx, ingest.Config{})

	done := make(chan error, 1)
	go func() {
		_, err := p.Ingest(ctx, []models.Talk{talkOfWords("alpha", 8)})
		done <- err
	}()

	select {
	case <-emb.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("first ingestion never started")
	}

	_, err := p.Ingest(ctx, []models.Talk{talkOfWords("beta", 8)})
	assert.ErrorIs(t, err, types.ErrIngestRunning)

	close(emb.Release)
	require.NoError(t, <-done)
}
