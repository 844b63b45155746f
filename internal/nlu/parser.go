package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParsedFact is an (attribute, subject) pair pulled from an utterance,
// with Value set when the utterance asserts rather than asks.
type ParsedFact struct {
	Subject   string `json:"subject"`
	Region    string `json:"region,omitempty"`
	Attribute string `json:"attribute"`
	Value     string `json:"value,omitempty"`
	Question  bool   `json:"question"`
}

// Parser attempts to read a fact out of free text. A nil fact with a nil
// error means "nothing parseable here", which is a normal outcome.
type Parser interface {
	ParseFact(ctx context.Context, text string) (*ParsedFact, error)
}

var (
	declarativeRe   = regexp.MustCompile(`(?i)^the\s+([\w\s]+?)\s+of\s+([\w\s,]+?)\s+is\s+(.+?)\.?$`)
	interrogativeRe = regexp.MustCompile(`(?i)^(?:who|what)\s+is\s+the\s+([\w\s]+?)\s+of\s+([\w\s,]+?)\??$`)
	regionSuffixRe  = regexp.MustCompile(`^(.*?),\s*([A-Za-z]{2})$`)
)

// RegexParser handles the two common shapes without a model call:
// "The <attr> of <subject> is <value>." and "Who/What is the <attr> of
// <subject>?". Trailing ", ST" on the subject becomes the region.
type RegexParser struct{}

func (RegexParser) ParseFact(_ context.Context, text string) (*ParsedFact, error) {
	text = strings.TrimSpace(text)

	if m := declarativeRe.FindStringSubmatch(text); m != nil {
		f := &ParsedFact{
			Attribute: strings.ToLower(strings.TrimSpace(m[1])),
			Value:     strings.TrimSpace(m[3]),
		}
		f.Subject, f.Region = splitRegion(m[2])
		return f, nil
	}

	if m := interrogativeRe.FindStringSubmatch(text); m != nil {
		f := &ParsedFact{
			Attribute: strings.ToLower(strings.TrimSpace(m[1])),
			Question:  true,
		}
		f.Subject, f.Region = splitRegion(m[2])
		return f, nil
	}

	return nil, nil
}

func splitRegion(subject string) (name, region string) {
	subject = strings.TrimSpace(subject)
	if m := regionSuffixRe.FindStringSubmatch(subject); m != nil {
		return strings.TrimSpace(m[1]), strings.ToUpper(m[2])
	}
	return subject, ""
}

// ParseError reports that the model produced output the strict JSON
// contract could not accept.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model fact parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const factParsePrompt = `Extract a single fact from the user text.
Respond with strict JSON only, no prose:
{"subject": "...", "region": "two-letter code or empty", "attribute": "...", "value": "empty when the text is a question", "question": true|false}
Respond with the literal string "null" when no fact is present.`

// ModelParser asks the completion model for a strict-JSON fact triple.
type ModelParser struct {
	client Completer
}

func NewModelParser(client Completer) *ModelParser {
	return &ModelParser{client: client}
}

func (p *ModelParser) ParseFact(ctx context.Context, text string) (*ParsedFact, error) {
	raw, err := p.client.Complete(ctx, factParsePrompt, text)
	if err != nil {
		return nil, fmt.Errorf("model fact parse: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var f ParsedFact
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	f.Subject = strings.TrimSpace(f.Subject)
	f.Attribute = strings.ToLower(strings.TrimSpace(f.Attribute))
	if f.Subject == "" || f.Attribute == "" {
		return nil, nil
	}
	return &f, nil
}

// ChainParser runs parsers in order; the first non-nil fact wins. Parser
// errors are swallowed so a flaky model never masks the regex path's "no
// fact here" answer.
type ChainParser struct {
	parsers []Parser
}

func NewChainParser(parsers ...Parser) *ChainParser {
	return &ChainParser{parsers: parsers}
}

func (c *ChainParser) ParseFact(ctx context.Context, text string) (*ParsedFact, error) {
	for _, p := range c.parsers {
		f, err := p.ParseFact(ctx, text)
		if err != nil {
			continue
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}
