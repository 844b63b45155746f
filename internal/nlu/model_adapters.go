package nlu

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/memory"
)

// Model-backed implementations of the NLU contracts. All of them decode
// defensively: a model failure or malformed payload degrades to the
// contract's empty value so a bad upstream answer never breaks a turn.

const classifyPrompt = `Classify the user's latest message given the recent conversation.
Respond with strict JSON only:
{"intent": "chat|followup|fact_lookup|recall|command", "needs_retrieval": bool, "inherits_context": bool, "explicit_entities": [..], "implicit_topics": [..], "time_reference": ""}`

type ModelClassifier struct {
	client Completer
}

func NewModelClassifier(client Completer) *ModelClassifier {
	return &ModelClassifier{client: client}
}

func (m *ModelClassifier) Classify(ctx context.Context, utterance, recentContext string) (Classification, error) {
	fallback := Classification{Intent: IntentChat}

	prompt := utterance
	if recentContext != "" {
		prompt = "Recent conversation:\n" + recentContext + "\n\nLatest message:\n" + utterance
	}
	raw, err := m.client.Complete(ctx, classifyPrompt, prompt)
	if err != nil {
		return fallback, nil
	}

	var c Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil {
		return fallback, nil
	}
	switch c.Intent {
	case IntentChat, IntentFollowup, IntentFactLookup, IntentRecall, IntentCommand:
	default:
		c.Intent = IntentChat
	}
	return c, nil
}

const extractPrompt = `Extract retrieval constraints from the message as a flat JSON object.
Use keys like "entities" (list of {"name", "entity_type", "state"}), "topics" (list of strings), "location", "time_range".
Respond with strict JSON only; respond with {} when nothing is extractable.`

type ModelExtractor struct {
	client Completer
}

func NewModelExtractor(client Completer) *ModelExtractor {
	return &ModelExtractor{client: client}
}

func (m *ModelExtractor) Extract(ctx context.Context, utterance string) (constraints.Map, error) {
	raw, err := m.client.Complete(ctx, extractPrompt, utterance)
	if err != nil {
		return constraints.Map{}, nil
	}
	return constraints.DecodeMap([]byte(strings.TrimSpace(raw))), nil
}

const summarizePrompt = `Summarize the conversation transcript for long-term memory.
Respond with strict JSON only:
{"text": "2-4 sentence narrative", "entities": [{"name", "entity_type", "state"}], "topics": [..], "actions": ["follow-up intents, e.g. 'monitor the water report'"]}`

type ModelSummarizer struct {
	client Completer
}

func NewModelSummarizer(client Completer) *ModelSummarizer {
	return &ModelSummarizer{client: client}
}

func (m *ModelSummarizer) Summarize(ctx context.Context, transcript []memory.Message) (Summary, error) {
	if len(transcript) == 0 {
		return Summary{}, nil
	}

	var b strings.Builder
	for _, msg := range transcript {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	raw, err := m.client.Complete(ctx, summarizePrompt, b.String())
	if err != nil {
		return Summary{}, nil
	}
	var s Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &s); err != nil {
		return Summary{}, nil
	}
	return s, nil
}

const watchDetectPrompt = `Does this exchange contain an explicit request to monitor or track something over time?
Respond with strict JSON only:
{"should_create": bool, "topic": "...", "entity_name": "...", "frequency": "daily|weekly|monthly"}`

type ModelWatchDetector struct {
	client Completer
}

func NewModelWatchDetector(client Completer) *ModelWatchDetector {
	return &ModelWatchDetector{client: client}
}

func (m *ModelWatchDetector) DetectFromTurn(ctx context.Context, userText, assistantText string) (WatchSignal, error) {
	raw, err := m.client.Complete(ctx, watchDetectPrompt, "user: "+userText+"\nassistant: "+assistantText)
	if err != nil {
		return WatchSignal{}, nil
	}
	var sig WatchSignal
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &sig); err != nil {
		return WatchSignal{}, nil
	}
	if sig.ShouldCreate && sig.Topic == "" {
		sig.ShouldCreate = false
	}
	switch sig.Frequency {
	case memory.FrequencyDaily, memory.FrequencyWeekly, memory.FrequencyMonthly:
	default:
		sig.Frequency = memory.FrequencyWeekly
	}
	return sig, nil
}
