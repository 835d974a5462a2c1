package answer

import (
	"fmt"
	"strings"

	"github.com/talkbase/talkbase/internal/models"
)

// SystemInstructions pins the generation capability to the provided
// sources. Declining is instructed explicitly so missing evidence yields a
// refusal instead of a guess.
const SystemInstructions = `You are a research assistant answering questions about a library of recorded talks. ` +
	`Answer using ONLY the numbered sources provided in the prompt, and cite them inline as [1], [2], and so on. ` +
	`If the sources do not contain the information needed to answer, reply exactly: ` +
	`"I don't have enough information in the talk library to answer that." ` +
	`Never use outside knowledge and never invent sources.`

// BuildPrompt renders the grounding prompt for one question: each retrieved
// chunk enumerated with its attribution, then the question. Pure function,
// no external calls.
func BuildPrompt(question string, chunks []models.RetrievedChunk) string {
	var b strings.Builder

	b.WriteString("Sources:\n\n")
	for i, rc := range chunks {
		meta := rc.Chunk.Meta
		fmt.Fprintf(&b, "[%d] %q by %s (%s)\n%s\n\n",
			i+1, meta.Title, meta.Speaker, meta.URL, rc.Chunk.Text)
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
