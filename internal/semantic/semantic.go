// Package semantic evaluates similarity-index results behind the
// contamination guard: curated records first, self-poisoned turns dropped,
// and nothing accepted that shares no token with the active constraints.
package semantic

import (
	"context"
	"strings"

	"github.com/antoniostano/govsight/internal/constraints"
)

// Record types the index declares on each vector's metadata. Facts and
// session summaries are curated; everything else is a raw turn.
const (
	RecordFact           = "fact"
	RecordSessionSummary = "session_summary"
	RecordTurn           = "turn"
)

// Metadata is the payload stored alongside each vector.
type Metadata struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID int64  `json:"session_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

// Match is one similarity hit.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Adapter is the external similarity index. Implementations wrap whatever
// vector store backs the deployment.
type Adapter interface {
	Query(ctx context.Context, text string, topK int) ([]Match, error)
}

// Answer is the guarded outcome of a semantic lookup. A zero Confidence
// with Miss set means the caller must continue the cascade.
type Answer struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Miss       bool    `json:"miss"`
	Survivors  []Match `json:"-"`
}

// Assistant turns apologizing for missing knowledge must never be recalled
// as answers.
var poisonPatterns = []string{
	"i currently do not have",
	"i do not have information",
}

// Evaluate applies the contamination guard to raw index matches and
// returns either a guarded answer or a definitive miss.
func Evaluate(matches []Match, active constraints.Map) Answer {
	if len(matches) == 0 {
		return Answer{Miss: true}
	}

	var curated, raw []Match
	for _, m := range matches {
		switch m.Metadata.Type {
		case RecordFact, RecordSessionSummary:
			curated = append(curated, m)
		default:
			raw = append(raw, m)
		}
	}

	pool := curated
	if len(pool) == 0 {
		for _, m := range raw {
			if selfPoisoned(m.Metadata.Text) {
				continue
			}
			pool = append(pool, m)
		}
	}

	tokens := constraints.Tokens(active)
	var survivors []Match
	for _, m := range pool {
		if constraints.MatchesAny(m.Metadata.Text, tokens) {
			survivors = append(survivors, m)
		}
	}
	if len(survivors) == 0 {
		return Answer{Miss: true}
	}

	var sum float64
	for _, m := range survivors {
		sum += m.Score
	}
	return Answer{
		Text:       survivors[0].Metadata.Text,
		Confidence: sum / float64(len(survivors)),
		Survivors:  survivors,
	}
}

func selfPoisoned(text string) bool {
	tl := strings.ToLower(text)
	for _, p := range poisonPatterns {
		if strings.Contains(tl, p) {
			return true
		}
	}
	return false
}
