package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// MemoryIndex is an in-process VectorIndex with the same contract as the
// pgvector adapter: cosine similarity, score descending, ties by id
// ascending. Used by tests and local runs without Postgres.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]models.IndexEntry
}

// NewMemoryIndex creates an empty index expecting vectors of dim.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim:     dim,
		entries: make(map[string]models.IndexEntry),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != m.dim {
			return &types.InvalidInputError{
				Field:   "entry.vector",
				Message: "vector dimension does not match index dimension",
			}
		}
	}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *MemoryIndex) DeleteFrom(ctx context.Context, talkID string, fromOrdinal int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		if e.Chunk.TalkID == talkID && e.Chunk.Ordinal >= fromOrdinal {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if len(vector) != m.dim {
		return nil, &types.InvalidInputError{
			Field:   "query.vector",
			Message: "vector dimension does not match index dimension",
		}
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]models.Match, 0, len(m.entries))
	for id, e := range m.entries {
		matches = append(matches, models.Match{
			ID:    id,
			Score: cosineSimilarity(vector, e.Vector),
			Chunk: e.Chunk,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return strings.Compare(matches[i].ID, matches[j].ID) < 0
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryIndex) Close() {}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
