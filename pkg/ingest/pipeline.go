package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/chunker"
)

// Config controls the ingestion pipeline.
type Config struct {
	// BatchSize is the number of chunks per upsert batch.
	BatchSize int
	// UpsertRetries is how many times a failed upsert batch is retried
	// before the run aborts.
	UpsertRetries int
	// ConsecutiveFailureLimit escalates to a fatal stop when this many
	// talks in a row fail with embedding unavailability: one timed-out
	// talk is a per-talk failure, a wall of them means the capability
	// itself is down.
	ConsecutiveFailureLimit int
	// OnProgress is called after each talk completes, with the number of
	// chunks written for it.
	OnProgress func(talkID string, chunks int)
	Logger     zerolog.Logger
}

// Pipeline populates the vector index from a talk corpus: chunk, embed,
// upsert, and drop chunks a shrunken transcript no longer covers.
// Ingestion runs are exclusive; queries may run concurrently and observe a
// partially updated index.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder types.Embedder
	index    types.VectorIndex
	config   Config
	mu       sync.Mutex
	log      zerolog.Logger
}

// New wires a Pipeline from its injected capabilities.
func New(ch *chunker.Chunker, embedder types.Embedder, index types.VectorIndex, config Config) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.UpsertRetries <= 0 {
		config.UpsertRetries = 3
	}
	if config.ConsecutiveFailureLimit <= 0 {
		config.ConsecutiveFailureLimit = 3
	}
	return &Pipeline{
		chunker:  ch,
		embedder: embedder,
		index:    index,
		config:   config,
		log:      config.Logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest processes the talks and returns a report of what succeeded. A
// per-talk failure is recorded and the run continues; index
// unreachability, or repeated consecutive embedding unavailability, stops
// the run with the report flushed up to that point.
func (p *Pipeline) Ingest(ctx context.Context, talks []models.Talk) (*models.IngestionReport, error) {
	if !p.mu.TryLock() {
		return nil, types.ErrIngestRunning
	}
	defer p.mu.Unlock()

	report := &models.IngestionReport{}
	consecutiveEmbedFailures := 0

	for _, talk := range talks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		written, err := p.ingestTalk(ctx, talk)
		report.ChunksWritten += written

		if err == nil {
			report.Succeeded = append(report.Succeeded, talk.ID)
			consecutiveEmbedFailures = 0
			if p.config.OnProgress != nil {
				p.config.OnProgress(talk.ID, written)
			}
			continue
		}

		report.AddFailure(talk.ID, err)
		p.log.Warn().Err(err).Str("talk", talk.ID).Msg("talk failed")

		if types.IsUnavailable(err, types.CapabilityIndex) {
			// Nothing can persist without the index.
			return report, err
		}
		if types.IsUnavailable(err, types.CapabilityEmbedding) {
			consecutiveEmbedFailures++
			if consecutiveEmbedFailures >= p.config.ConsecutiveFailureLimit {
				return report, types.Unavailable(types.CapabilityEmbedding,
					fmt.Errorf("%d consecutive talks failed to embed: %w",
						consecutiveEmbedFailures, err))
			}
			continue
		}
		consecutiveEmbedFailures = 0
	}

	p.log.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Int("chunks", report.ChunksWritten).
		Msg("ingestion run complete")
	return report, nil
}

func (p *Pipeline) ingestTalk(ctx context.Context, talk models.Talk) (int, error) {
	if strings.TrimSpace(talk.ID) == "" {
		return 0, &types.InvalidInputError{Field: "talk.id", Message: "talk id must not be empty"}
	}

	chunks, err := p.chunker.Chunk(talk)
	if err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return written, err
		}

		entries := make([]models.IndexEntry, len(batch))
		for i, c := range batch {
			entries[i] = models.IndexEntry{ID: c.ID(), Vector: vectors[i], Chunk: c}
		}
		if err := p.upsertWithRetry(ctx, entries); err != nil {
			return written, err
		}
		written += len(entries)
	}

	// Stable talkID:ordinal ids make the writes above overwrite prior
	// chunks entry-by-entry; anything past the new chunk count is stale.
	if err := p.index.DeleteFrom(ctx, talk.ID, len(chunks)); err != nil {
		return written, err
	}

	return written, nil
}

// upsertWithRetry retries a failed batch before giving up, so one blip
// does not silently drop chunks mid-talk.
func (p *Pipeline) upsertWithRetry(ctx context.Context, entries []models.IndexEntry) error {
	var lastErr error
	for attempt := 0; attempt < p.config.UpsertRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		lastErr = p.index.Upsert(ctx, entries)
		if lastErr == nil {
			return nil
		}

		var ue *types.UpsertError
		if !errors.As(lastErr, &ue) {
			// Not a batch persistence failure (bad input); retrying will
			// not help.
			return lastErr
		}
		p.log.Warn().Err(lastErr).Int("attempt", attempt+1).
			Int("entries", len(ue.FailedIDs)).Msg("upsert batch failed")
	}
	return lastErr
}
