package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// PGVectorConfig configures the Postgres/pgvector index adapter.
type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	Logger     zerolog.Logger
}

// PGVectorIndex is the VectorIndex adapter backed by Postgres with the
// pgvector extension. Similarity is cosine; query results are score
// descending with ties broken by id ascending.
type PGVectorIndex struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
	log    zerolog.Logger
}

// NewPGVectorIndex connects, ensures the extension, table, and ivfflat
// index exist, and returns the adapter.
func NewPGVectorIndex(ctx context.Context, config PGVectorConfig) (*PGVectorIndex, error) {
	if config.TableName == "" {
		config.TableName = "talk_chunks"
	}
	if config.VectorDim <= 0 {
		return nil, &types.InvalidInputError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		}
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("connect to database: %w", err))
	}

	idx := &PGVectorIndex{
		config: config,
		pool:   pool,
		log:    config.Logger.With().Str("component", "pgvector").Logger(),
	}

	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *PGVectorIndex) initialize(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("create vector extension: %w", err))
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			talk_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			start_token INTEGER NOT NULL,
			end_token INTEGER NOT NULL,
			title TEXT,
			speaker TEXT,
			url TEXT,
			views BIGINT,
			published_at TIMESTAMPTZ,
			topics TEXT[],
			content TEXT,
			embedding vector(%d)
		)`, idx.config.TableName, idx.config.VectorDim)
	if _, err := idx.pool.Exec(ctx, createTable); err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("create table: %w", err))
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		idx.config.TableName, idx.config.TableName)
	if _, err := idx.pool.Exec(ctx, createVectorIndex); err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("create vector index: %w", err))
	}

	createTalkIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_talk_idx ON %s (talk_id, ordinal)`,
		idx.config.TableName, idx.config.TableName)
	if _, err := idx.pool.Exec(ctx, createTalkIndex); err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("create talk index: %w", err))
	}

	return nil
}

// Upsert writes a batch of entries in one transaction. On failure the whole
// batch is reported via UpsertError so ingestion can retry it without
// guessing which ids persisted.
func (idx *PGVectorIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		if len(e.Vector) != idx.config.VectorDim {
			return &types.InvalidInputError{
				Field:   "entry.vector",
				Message: fmt.Sprintf("vector dimension %d does not match index dimension %d", len(e.Vector), idx.config.VectorDim),
			}
		}
	}

	batchErr := func(err error) error {
		return &types.UpsertError{
			FailedIDs: ids,
			Err:       types.Unavailable(types.CapabilityIndex, err),
		}
	}

	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return batchErr(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, talk_id, ordinal, start_token, end_token,
			title, speaker, url, views, published_at, topics, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			start_token = EXCLUDED.start_token,
			end_token = EXCLUDED.end_token,
			title = EXCLUDED.title,
			speaker = EXCLUDED.speaker,
			url = EXCLUDED.url,
			views = EXCLUDED.views,
			published_at = EXCLUDED.published_at,
			topics = EXCLUDED.topics,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		idx.config.TableName)

	for _, e := range entries {
		c := e.Chunk
		_, err := tx.Exec(ctx, stmt,
			e.ID, c.TalkID, c.Ordinal, c.StartToken, c.EndToken,
			c.Meta.Title, c.Meta.Speaker, c.Meta.URL, c.Meta.Views,
			c.Meta.PublishedAt, c.Meta.Topics, c.Text,
			pgvector.NewVector(e.Vector),
		)
		if err != nil {
			return batchErr(fmt.Errorf("insert chunk %s: %w", e.ID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return batchErr(fmt.Errorf("commit transaction: %w", err))
	}

	idx.log.Debug().Int("entries", len(entries)).Msg("upserted batch")
	return nil
}

func (idx *PGVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", idx.config.TableName)
	if _, err := idx.pool.Exec(ctx, stmt, ids); err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("delete chunks: %w", err))
	}
	return nil
}

// DeleteFrom drops every chunk of a talk at or beyond fromOrdinal. Used by
// ingestion so a shrunken transcript leaves no orphaned trailing chunks.
func (idx *PGVectorIndex) DeleteFrom(ctx context.Context, talkID string, fromOrdinal int) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE talk_id = $1 AND ordinal >= $2",
		idx.config.TableName)
	tag, err := idx.pool.Exec(ctx, stmt, talkID, fromOrdinal)
	if err != nil {
		return types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("delete stale chunks for %s: %w", talkID, err))
	}
	if tag.RowsAffected() > 0 {
		idx.log.Debug().Str("talk", talkID).Int64("removed", tag.RowsAffected()).
			Msg("removed stale chunks")
	}
	return nil
}

func (idx *PGVectorIndex) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if len(vector) != idx.config.VectorDim {
		return nil, &types.InvalidInputError{
			Field:   "query.vector",
			Message: fmt.Sprintf("vector dimension %d does not match index dimension %d", len(vector), idx.config.VectorDim),
		}
	}
	if k <= 0 {
		return nil, nil
	}

	// <=> is cosine distance; similarity = 1 - distance. Ordering by the
	// distance expression plus id keeps ties deterministic.
	query := fmt.Sprintf(`
		SELECT id, talk_id, ordinal, start_token, end_token,
			title, speaker, url, views, published_at, topics, content,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $2`,
		idx.config.TableName)

	rows, err := idx.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("query chunks: %w", err))
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		c := &m.Chunk
		err := rows.Scan(
			&m.ID, &c.TalkID, &c.Ordinal, &c.StartToken, &c.EndToken,
			&c.Meta.Title, &c.Meta.Speaker, &c.Meta.URL, &c.Meta.Views,
			&c.Meta.PublishedAt, &c.Meta.Topics, &c.Text,
			&m.Score,
		)
		if err != nil {
			return nil, types.Unavailable(types.CapabilityIndex,
				fmt.Errorf("scan row: %w", err))
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Unavailable(types.CapabilityIndex,
			fmt.Errorf("read rows: %w", err))
	}
	return matches, nil
}

func (idx *PGVectorIndex) Close() {
	if idx.pool != nil {
		idx.pool.Close()
	}
}
