package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/antoniostano/govsight/internal/memory"
)

func TestModelClassifierDecodes(t *testing.T) {
	c := NewModelClassifier(&fakeCompleter{
		reply: `{"intent": "fact_lookup", "needs_retrieval": true, "inherits_context": true, "explicit_entities": ["Grandview"]}`,
	})
	got, err := c.Classify(context.Background(), "who is the mayor?", "")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != IntentFactLookup || !got.NeedsRetrieval || !got.InheritsContext {
		t.Fatalf("Classify() = %+v", got)
	}
}

func TestModelClassifierDegradesToChat(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeCompleter
	}{
		{"transport error", &fakeCompleter{err: errors.New("connection refused")}},
		{"malformed json", &fakeCompleter{reply: "no json here"}},
		{"unknown intent", &fakeCompleter{reply: `{"intent": "banter"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewModelClassifier(tt.fake).Classify(context.Background(), "hi", "")
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Intent != IntentChat {
				t.Fatalf("Classify() intent = %q, want chat", got.Intent)
			}
		})
	}
}

func TestModelExtractorDegradesToEmptyMap(t *testing.T) {
	got, err := NewModelExtractor(&fakeCompleter{err: errors.New("boom")}).Extract(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Extract() = %+v, want empty map", got)
	}
}

func TestModelExtractorDecodes(t *testing.T) {
	got, err := NewModelExtractor(&fakeCompleter{
		reply: `{"entities": [{"name": "Grandview", "state": "TX"}], "topics": ["water quality"]}`,
	}).Extract(context.Background(), "what about Grandview's water?")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := got["entities"]; !ok {
		t.Fatalf("Extract() = %+v, missing entities", got)
	}
}

func TestModelSummarizer(t *testing.T) {
	s := NewModelSummarizer(&fakeCompleter{
		reply: `{"text": "Discussed Grandview leadership.", "entities": [{"name": "Grandview", "entity_type": "city", "state": "TX"}], "topics": ["leadership"], "actions": ["monitor election results"]}`,
	})
	transcript := []memory.Message{
		{Role: memory.RoleUser, Content: "who runs Grandview?"},
		{Role: memory.RoleAssistant, Content: "Tommy Brandt is the mayor."},
	}
	got, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got.Text == "" || len(got.Entities) != 1 || len(got.Actions) != 1 {
		t.Fatalf("Summarize() = %+v", got)
	}

	empty, err := s.Summarize(context.Background(), nil)
	if err != nil || empty.Text != "" {
		t.Fatalf("Summarize(empty) = %+v, %v", empty, err)
	}
}

func TestModelWatchDetector(t *testing.T) {
	d := NewModelWatchDetector(&fakeCompleter{
		reply: `{"should_create": true, "topic": "Grandview water report", "entity_name": "Grandview", "frequency": "quarterly"}`,
	})
	sig, err := d.DetectFromTurn(context.Background(), "keep an eye on the water report", "Will do.")
	if err != nil {
		t.Fatalf("DetectFromTurn() error = %v", err)
	}
	if !sig.ShouldCreate || sig.Topic == "" {
		t.Fatalf("DetectFromTurn() = %+v", sig)
	}
	if sig.Frequency != memory.FrequencyWeekly {
		t.Fatalf("unknown frequency not defaulted: %q", sig.Frequency)
	}

	noTopic, _ := NewModelWatchDetector(&fakeCompleter{reply: `{"should_create": true}`}).
		DetectFromTurn(context.Background(), "x", "y")
	if noTopic.ShouldCreate {
		t.Fatalf("topicless signal kept should_create = true")
	}
}
