package web

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/nlu"
)

// HeuristicScorer rates relevance by constraint-token containment. It is
// the deterministic fallback when no model scorer is configured: the
// fraction of constraint tokens the document mentions.
type HeuristicScorer struct{}

func (HeuristicScorer) Score(_ context.Context, _ string, cons constraints.Map, docText, _ string) (float64, error) {
	tokens := constraints.Tokens(cons)
	if len(tokens) == 0 || docText == "" {
		return 0, nil
	}
	tl := strings.ToLower(docText)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(tl, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)), nil
}

const docEvalPrompt = `Assess whether this web source helps answer the question, given the constraints.
Respond with strict JSON only:
{"relevance_score": 0.0-1.0, "useful": true|false, "notes": "short diagnostic"}`

// ModelScorer asks the completion model to rate a document. A bad model
// answer scores zero rather than failing the document.
type ModelScorer struct {
	client Completer
}

// Completer mirrors the nlu completion surface so the scorer can share the
// engine's model client.
type Completer = nlu.Completer

func NewModelScorer(client Completer) *ModelScorer {
	return &ModelScorer{client: client}
}

func (s *ModelScorer) Score(ctx context.Context, query string, cons constraints.Map, docText, url string) (float64, error) {
	consJSON, _ := json.Marshal(cons)

	excerpt := docText
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\nConstraints: ")
	b.Write(consJSON)
	b.WriteString("\nSource URL: ")
	b.WriteString(url)
	b.WriteString("\n\nContent:\n")
	b.WriteString(excerpt)

	raw, err := s.client.Complete(ctx, docEvalPrompt, b.String())
	if err != nil {
		return 0, err
	}
	var eval struct {
		RelevanceScore float64 `json:"relevance_score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &eval); err != nil {
		return 0, nil
	}
	if eval.RelevanceScore < 0 {
		return 0, nil
	}
	if eval.RelevanceScore > 1 {
		return 1, nil
	}
	return eval.RelevanceScore, nil
}
