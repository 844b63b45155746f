package web

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/antoniostano/govsight/internal/constraints"
)

const (
	// DefaultTopN bounds how many search results are fetched and scored.
	DefaultTopN = 10
	// DefaultMinHighConf findings at or above the cutoff end the scan early.
	DefaultMinHighConf = 3
	// DefaultRelevanceCutoff is the score a finding needs to count as
	// high confidence.
	DefaultRelevanceCutoff = 0.70

	maxSources = 5
)

// Options tune the corroboration scan. Zero values take the defaults.
type Options struct {
	TopN            int
	MinHighConf     int
	RelevanceCutoff float64
}

func (o Options) withDefaults() Options {
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.MinHighConf <= 0 {
		o.MinHighConf = DefaultMinHighConf
	}
	if o.RelevanceCutoff <= 0 {
		o.RelevanceCutoff = DefaultRelevanceCutoff
	}
	return o
}

// Corroborator runs the search-fetch-score-synthesize pipeline. Documents
// are processed sequentially in search order so the early-stop count is
// deterministic.
type Corroborator struct {
	searcher Searcher
	fetcher  Fetcher
	scorer   Scorer
	synth    Synthesizer
	opts     Options
}

func NewCorroborator(searcher Searcher, fetcher Fetcher, scorer Scorer, synth Synthesizer, opts Options) *Corroborator {
	return &Corroborator{
		searcher: searcher,
		fetcher:  fetcher,
		scorer:   scorer,
		synth:    synth,
		opts:     opts.withDefaults(),
	}
}

// Corroborate answers a query from the open web. Per-document failures
// degrade that document's score to zero; only a failed search fails the
// whole call.
func (c *Corroborator) Corroborate(ctx context.Context, query string, cons constraints.Map) (Outcome, error) {
	results, err := c.searcher.Search(ctx, query, c.opts.TopN)
	if err != nil {
		return Outcome{}, fmt.Errorf("web search: %w", err)
	}

	var findings []Finding
	highConf := 0
	for _, r := range results {
		text, err := c.fetcher.FetchText(ctx, r.URL)
		if err != nil {
			log.Printf("web: fetch failed url=%s err=%v", r.URL, err)
			text = ""
		}

		doc := text
		if doc == "" {
			doc = r.Snippet
		}
		score, err := c.scorer.Score(ctx, query, cons, doc, r.URL)
		if err != nil {
			log.Printf("web: score failed url=%s err=%v", r.URL, err)
			score = 0
		}

		findings = append(findings, Finding{Result: r, Text: text, Score: score})
		if score >= c.opts.RelevanceCutoff {
			highConf++
			if highConf >= c.opts.MinHighConf {
				break
			}
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Score > findings[j].Score
	})

	out := Outcome{Findings: findings, Confidence: classify(findings, highConf, c.opts)}
	for i, f := range findings {
		if i == maxSources {
			break
		}
		out.Sources = append(out.Sources, f.Result)
	}

	answer, err := c.synth.Synthesize(ctx, query, cons, findings)
	if err != nil {
		return Outcome{}, fmt.Errorf("synthesize answer: %w", err)
	}
	out.Answer = answer
	return out, nil
}

func classify(findings []Finding, highConf int, opts Options) Confidence {
	if highConf >= opts.MinHighConf {
		return ConfidenceHigh
	}
	for _, f := range findings {
		if f.Score >= opts.RelevanceCutoff {
			return ConfidenceMedium
		}
	}
	return ConfidenceLow
}

// ConfidenceValue maps the label to the numeric confidence recorded on
// remembered facts.
func ConfidenceValue(c Confidence) float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.6
	default:
		return 0.3
	}
}
