// Package nlu defines the contracts the engine consumes from the external
// language-model layer: turn classification, constraint extraction, fact
// parsing and session summarization. The engine treats all of it as
// untrusted input; every contract degrades to a well-formed empty value.
package nlu

import (
	"context"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/memory"
)

type Intent string

const (
	IntentChat       Intent = "chat"
	IntentFollowup   Intent = "followup"
	IntentFactLookup Intent = "fact_lookup"
	IntentRecall     Intent = "recall"
	IntentCommand    Intent = "command"
)

// Classification is the per-turn routing decision. InheritsContext tells
// the engine to merge the active context into the turn's constraints
// before retrieval; IntentCommand routes to watchlist creation instead of
// the cascade.
type Classification struct {
	Intent           Intent   `json:"intent"`
	NeedsRetrieval   bool     `json:"needs_retrieval"`
	InheritsContext  bool     `json:"inherits_context"`
	ExplicitEntities []string `json:"explicit_entities,omitempty"`
	ImplicitTopics   []string `json:"implicit_topics,omitempty"`
	TimeReference    string   `json:"time_reference,omitempty"`
}

// Classifier decides how a turn should be handled. Implementations must
// return a usable zero-ish Classification on failure, never an error that
// halts the turn.
type Classifier interface {
	Classify(ctx context.Context, utterance string, recentContext string) (Classification, error)
}

// Extractor pulls a constraint map out of an utterance. A failed
// extraction yields an empty map.
type Extractor interface {
	Extract(ctx context.Context, utterance string) (constraints.Map, error)
}

// Summary is the distilled outcome of a closed session.
type Summary struct {
	Text     string             `json:"text"`
	Entities []memory.EntityRef `json:"entities,omitempty"`
	Topics   []string           `json:"topics,omitempty"`
	Actions  []string           `json:"actions,omitempty"`
}

// Summarizer condenses a transcript at session close.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []memory.Message) (Summary, error)
}

// WatchSignal is an explicit monitoring request detected in an exchange.
type WatchSignal struct {
	ShouldCreate bool             `json:"should_create"`
	Topic        string           `json:"topic"`
	EntityName   string           `json:"entity_name,omitempty"`
	Frequency    memory.Frequency `json:"frequency,omitempty"`
}

// WatchDetector inspects one user/assistant exchange for tracking intent.
// This is the model-backed path; the coarse substring heuristic applied to
// session-close actions lives with the store.
type WatchDetector interface {
	DetectFromTurn(ctx context.Context, userText, assistantText string) (WatchSignal, error)
}
