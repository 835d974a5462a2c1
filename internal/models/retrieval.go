package models

// IndexEntry is one (id, vector, metadata) row written to the vector index.
type IndexEntry struct {
	ID     string
	Vector []float32
	Chunk  Chunk
}

// Match is one similarity-query hit, score descending in query results.
type Match struct {
	ID    string
	Score float64
	Chunk Chunk
}

// RetrievedChunk pairs a chunk with its similarity score for one question.
type RetrievedChunk struct {
	Chunk Chunk
	Score float64
}

// RetrievedContext is the ranked, deduplicated evidence for one question.
// Lives for a single request.
type RetrievedContext struct {
	Chunks []RetrievedChunk
}

// Empty reports whether retrieval found no usable evidence.
func (rc RetrievedContext) Empty() bool {
	return len(rc.Chunks) == 0
}

// AnswerResponse is the synthesized answer plus the evidence it was
// grounded on. InsufficientEvidence is a normal outcome, not an error.
type AnswerResponse struct {
	Answer               string           `json:"answer"`
	Evidence             []RetrievedChunk `json:"-"`
	InsufficientEvidence bool             `json:"insufficient_evidence"`
}

// TalkFailure records one talk the ingestion pipeline could not process.
type TalkFailure struct {
	TalkID string
	Reason string
}

// IngestionReport summarizes one ingestion run.
type IngestionReport struct {
	Succeeded     []string
	Failed        []TalkFailure
	ChunksWritten int
}

// AddFailure records a per-talk failure.
func (r *IngestionReport) AddFailure(talkID string, err error) {
	r.Failed = append(r.Failed, TalkFailure{TalkID: talkID, Reason: err.Error()})
}
