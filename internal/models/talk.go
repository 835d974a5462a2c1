package models

import (
	"fmt"
	"time"
)

// Talk is a single spoken-word talk from the corpus. Talks are immutable
// once ingested; re-ingesting the same ID replaces its chunks.
type Talk struct {
	ID          string
	Title       string
	Speaker     string
	Transcript  string
	URL         string
	Views       int
	PublishedAt time.Time
	Topics      []string
}

// TalkMeta is the talk metadata inherited by every chunk, carried through
// the index so retrieval results can be attributed without a second lookup.
type TalkMeta struct {
	Title       string
	Speaker     string
	URL         string
	Views       int
	PublishedAt time.Time
	Topics      []string
}

// Meta returns the metadata a chunk inherits from its talk.
func (t Talk) Meta() TalkMeta {
	return TalkMeta{
		Title:       t.Title,
		Speaker:     t.Speaker,
		URL:         t.URL,
		Views:       t.Views,
		PublishedAt: t.PublishedAt,
		Topics:      t.Topics,
	}
}

// Chunk is a bounded token-span slice of one talk's transcript, the atomic
// unit of retrieval. StartToken/EndToken are offsets into the talk's token
// stream; EndToken is exclusive.
type Chunk struct {
	TalkID     string
	Ordinal    int
	StartToken int
	EndToken   int
	Text       string
	Meta       TalkMeta
}

// ID returns the stable chunk identifier, talkID:ordinal. The scheme makes
// re-ingestion overwrite entry-by-entry.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.TalkID, c.Ordinal)
}

// Overlaps reports whether two chunks share any token span. Only meaningful
// for chunks of the same talk.
func (c Chunk) Overlaps(other Chunk) bool {
	return c.TalkID == other.TalkID &&
		c.StartToken < other.EndToken && other.StartToken < c.EndToken
}
