// Package web implements the corroboration fallback: search the open web,
// fetch candidate pages, score them against the query constraints and
// synthesize an answer from the best findings.
package web

import (
	"context"

	"github.com/antoniostano/govsight/internal/constraints"
)

// Confidence labels the overall strength of a corroborated answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is one search hit before fetching.
type Result struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	SourceType string `json:"source_type"`
}

// Finding is a fetched and scored document.
type Finding struct {
	Result
	Text  string  `json:"-"`
	Score float64 `json:"score"`
}

// Outcome is the corroborator's verdict for one query.
type Outcome struct {
	Answer     string     `json:"answer"`
	Confidence Confidence `json:"confidence"`
	Findings   []Finding  `json:"findings"`
	Sources    []Result   `json:"sources"`
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Scorer rates a document's relevance to the query on [0, 1].
type Scorer interface {
	Score(ctx context.Context, query string, cons constraints.Map, docText, url string) (float64, error)
}

// Synthesizer writes the final answer from the retained findings.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, cons constraints.Map, findings []Finding) (string, error)
}
