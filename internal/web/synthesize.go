package web

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/antoniostano/govsight/internal/constraints"
)

const synthPrompt = `Answer the question using only the reviewed web findings.
Prefer findings with a higher score; they matched the question better.
Cite uncertainty where sources conflict. If the answer is not confirmed, say so plainly.`

// ModelSynthesizer writes the final corroborated answer with the
// completion model.
type ModelSynthesizer struct {
	client Completer
}

func NewModelSynthesizer(client Completer) *ModelSynthesizer {
	return &ModelSynthesizer{client: client}
}

func (s *ModelSynthesizer) Synthesize(ctx context.Context, query string, cons constraints.Map, findings []Finding) (string, error) {
	consJSON, _ := json.Marshal(cons)

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\nConstraints: ")
	b.Write(consJSON)
	b.WriteString("\n\nFindings:\n")
	for i, f := range findings {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] score=")
		b.WriteString(strconv.FormatFloat(f.Score, 'f', 2, 64))
		b.WriteString(" ")
		b.WriteString(f.Title)
		b.WriteString(" (")
		b.WriteString(f.URL)
		b.WriteString(")\n")
		excerpt := f.Text
		if excerpt == "" {
			excerpt = f.Snippet
		}
		if len(excerpt) > 2000 {
			excerpt = excerpt[:2000]
		}
		b.WriteString(excerpt)
		b.WriteString("\n\n")
	}

	return s.client.Complete(ctx, synthPrompt, b.String())
}

// SnippetSynthesizer is the offline fallback: it returns the best
// finding's snippet or nothing when no finding passed muster.
type SnippetSynthesizer struct{}

func (SnippetSynthesizer) Synthesize(_ context.Context, _ string, _ constraints.Map, findings []Finding) (string, error) {
	for _, f := range findings {
		if f.Score <= 0 {
			continue
		}
		if f.Snippet != "" {
			return f.Snippet, nil
		}
	}
	return "", nil
}
