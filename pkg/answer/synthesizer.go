package answer

import (
	"context"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
)

// InsufficientEvidenceAnswer is the deterministic response returned when
// retrieval found no usable context. Generation is skipped entirely in
// that case.
const InsufficientEvidenceAnswer = "I couldn't find relevant passages in the talk library to answer that question."

// Config configures the synthesizer.
type Config struct {
	Logger zerolog.Logger
}

// Synthesizer turns a question and its retrieved context into a grounded,
// citation-annotated answer.
type Synthesizer struct {
	generator types.Generator
	log       zerolog.Logger
}

// New wires a Synthesizer around the injected generation capability.
func New(generator types.Generator, config Config) *Synthesizer {
	return &Synthesizer{
		generator: generator,
		log:       config.Logger.With().Str("component", "synthesizer").Logger(),
	}
}

// Synthesize produces the answer for one request. Empty context
// short-circuits to the insufficiency response without touching the
// generation capability; generation faults propagate as typed unavailable
// errors. Every citation left in the answer refers to a chunk present in
// the input context, and the evidence list is exactly that context.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, rc models.RetrievedContext) (*models.AnswerResponse, error) {
	if rc.Empty() {
		s.log.Debug().Str("question", question).Msg("no evidence, skipping generation")
		return &models.AnswerResponse{
			Answer:               InsufficientEvidenceAnswer,
			InsufficientEvidence: true,
		}, nil
	}

	prompt := BuildPrompt(question, rc.Chunks)
	text, err := s.generator.Generate(ctx, SystemInstructions, prompt)
	if err != nil {
		return nil, err
	}

	return &models.AnswerResponse{
		Answer:   stripDanglingCitations(text, len(rc.Chunks)),
		Evidence: rc.Chunks,
	}, nil
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// stripDanglingCitations removes citation markers that do not correspond
// to any provided source, so the response never points at evidence it was
// not given.
func stripDanglingCitations(text string, sources int) string {
	return citationPattern.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(marker[1 : len(marker)-1])
		if err == nil && n >= 1 && n <= sources {
			return marker
		}
		return ""
	})
}
