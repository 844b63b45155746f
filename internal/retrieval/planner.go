// Package retrieval runs the four-stage answer cascade: structured fact
// lookup, guarded semantic recall, web corroboration, then an explicit
// no-answer fallback. Stages run in order and short-circuit on the first
// confident hit; an external failure is a miss for that stage only.
package retrieval

import (
	"context"
	"log"
	"time"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/nlu"
	"github.com/antoniostano/govsight/internal/observability"
	"github.com/antoniostano/govsight/internal/semantic"
	"github.com/antoniostano/govsight/internal/web"
)

// Stage names the cascade stage that produced a resolution.
type Stage string

const (
	StageStructured Stage = "structured"
	StageSemantic   Stage = "semantic"
	StageWeb        Stage = "web"
	StageNone       Stage = "none"
)

const (
	// DefaultSemanticThreshold is the minimum mean similarity a guarded
	// semantic answer needs to be accepted.
	DefaultSemanticThreshold = 0.80
	// DefaultSemanticTopK is how many index matches feed the guard.
	DefaultSemanticTopK = 20
)

// Request is one cascade invocation.
type Request struct {
	SessionID   int64
	Query       string
	Parsed      *nlu.ParsedFact
	Constraints constraints.Map
}

// Resolution is the cascade's answer. WriteBackFailed flags that the
// answer could not be persisted, so the next identical turn will not hit
// the structured stage.
type Resolution struct {
	Answer          string   `json:"answer"`
	Stage           Stage    `json:"stage"`
	Confidence      float64  `json:"confidence"`
	Exact           bool     `json:"exact"`
	NoAnswer        bool     `json:"no_answer"`
	Sources         []string `json:"sources,omitempty"`
	WriteBackFailed bool     `json:"write_back_failed,omitempty"`
}

// Options tune the planner's semantic stage; web-stage bounds live on the
// corroborator itself.
type Options struct {
	SemanticThreshold float64
	SemanticTopK      int
}

func (o Options) withDefaults() Options {
	if o.SemanticThreshold <= 0 {
		o.SemanticThreshold = DefaultSemanticThreshold
	}
	if o.SemanticTopK <= 0 {
		o.SemanticTopK = DefaultSemanticTopK
	}
	return o
}

// Corroborator is the web-stage surface the planner consumes.
type Corroborator interface {
	Corroborate(ctx context.Context, query string, cons constraints.Map) (web.Outcome, error)
}

// Planner resolves queries through the cascade and writes confirmed
// answers back to the store so future turns hit the structured stage.
type Planner struct {
	store        memory.Store
	index        semantic.Adapter
	corroborator Corroborator
	opts         Options
	metrics      *observability.Metrics
	window       *observability.StageWindow
}

func NewPlanner(store memory.Store, index semantic.Adapter, corroborator Corroborator, opts Options, metrics *observability.Metrics, window *observability.StageWindow) *Planner {
	return &Planner{
		store:        store,
		index:        index,
		corroborator: corroborator,
		opts:         opts.withDefaults(),
		metrics:      metrics,
		window:       window,
	}
}

// Resolve walks the cascade for one turn.
func (p *Planner) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if res, ok := p.structuredLookup(ctx, req); ok {
		return res, nil
	}
	if res, ok := p.semanticLookup(ctx, req); ok {
		res.WriteBackFailed = p.writeBack(ctx, req, res, memory.SourceSystem) != nil
		return res, nil
	}
	if res, ok := p.webLookup(ctx, req); ok {
		res.WriteBackFailed = p.writeBack(ctx, req, res, memory.SourceWeb) != nil
		return res, nil
	}

	p.countStage(StageNone, "fallback")
	return Resolution{Stage: StageNone, NoAnswer: true}, nil
}

func (p *Planner) structuredLookup(ctx context.Context, req Request) (Resolution, bool) {
	if req.Parsed == nil || req.Parsed.Subject == "" || req.Parsed.Attribute == "" {
		p.countStage(StageStructured, "skipped")
		return Resolution{}, false
	}
	start := time.Now()

	slug := memory.Slugify(req.Parsed.Subject, req.Parsed.Region)
	attr := memory.NormalizeAttribute(req.Parsed.Attribute)
	fact, err := p.store.GetLatest(ctx, slug, attr)
	p.observeStage(StageStructured, start)
	if err != nil {
		if err != memory.ErrNotFound {
			log.Printf("retrieval: structured lookup failed slug=%s attr=%s err=%v", slug, attr, err)
			p.countExternalError("store")
		}
		p.countStage(StageStructured, "miss")
		return Resolution{}, false
	}

	p.countStage(StageStructured, "hit")
	return Resolution{
		Answer:     fact.Value,
		Stage:      StageStructured,
		Confidence: fact.Confidence,
		Exact:      true,
	}, true
}

func (p *Planner) semanticLookup(ctx context.Context, req Request) (Resolution, bool) {
	if p.index == nil {
		p.countStage(StageSemantic, "skipped")
		return Resolution{}, false
	}
	start := time.Now()

	query := constraints.ContextualQuery(req.Query, req.Constraints)
	matches, err := p.index.Query(ctx, query, p.opts.SemanticTopK)
	p.observeStage(StageSemantic, start)
	if err != nil {
		log.Printf("retrieval: semantic query failed err=%v", err)
		p.countExternalError("semantic_index")
		p.countStage(StageSemantic, "miss")
		return Resolution{}, false
	}

	answer := semantic.Evaluate(matches, req.Constraints)
	if answer.Miss {
		if p.window != nil {
			p.window.ObserveIndicator("semantic_guard_miss")
		}
		p.countStage(StageSemantic, "miss")
		return Resolution{}, false
	}
	if answer.Confidence < p.opts.SemanticThreshold {
		p.countStage(StageSemantic, "below_threshold")
		return Resolution{}, false
	}

	p.countStage(StageSemantic, "hit")
	return Resolution{
		Answer:     answer.Text,
		Stage:      StageSemantic,
		Confidence: answer.Confidence,
	}, true
}

func (p *Planner) webLookup(ctx context.Context, req Request) (Resolution, bool) {
	if p.corroborator == nil {
		p.countStage(StageWeb, "skipped")
		return Resolution{}, false
	}
	start := time.Now()

	query := constraints.ContextualQuery(req.Query, req.Constraints)
	outcome, err := p.corroborator.Corroborate(ctx, query, req.Constraints)
	p.observeStage(StageWeb, start)
	if err != nil {
		log.Printf("retrieval: web corroboration failed err=%v", err)
		p.countExternalError("web")
		p.countStage(StageWeb, "miss")
		return Resolution{}, false
	}
	if outcome.Answer == "" {
		p.countStage(StageWeb, "miss")
		return Resolution{}, false
	}
	if p.metrics != nil {
		p.metrics.WebDocsFetched.Add(float64(len(outcome.Findings)))
	}

	sources := make([]string, 0, len(outcome.Sources))
	for _, s := range outcome.Sources {
		sources = append(sources, s.URL)
	}

	p.countStage(StageWeb, "hit")
	return Resolution{
		Answer:     outcome.Answer,
		Stage:      StageWeb,
		Confidence: web.ConfidenceValue(outcome.Confidence),
		Sources:    sources,
	}, true
}

// writeBack persists an answer produced past the structured stage so the
// next turn resolves it at stage one. Structured hits are already in the
// store and are never rewritten. A storage failure is reported to the
// caller; losing the write silently would leave the answer unversioned.
func (p *Planner) writeBack(ctx context.Context, req Request, res Resolution, source memory.Source) error {
	if req.Parsed == nil || req.Parsed.Subject == "" || req.Parsed.Attribute == "" {
		return nil
	}

	subjectType := memory.SubjectGeneric
	if req.Parsed.Region != "" {
		subjectType = memory.SubjectCity
	}
	_, err := p.store.Remember(ctx, memory.RememberParams{
		SubjectType: subjectType,
		SubjectSlug: memory.Slugify(req.Parsed.Subject, req.Parsed.Region),
		Attribute:   memory.NormalizeAttribute(req.Parsed.Attribute),
		Value:       res.Answer,
		Source:      source,
		Confidence:  res.Confidence,
		Provenance: memory.Provenance{
			SessionID: req.SessionID,
			URLs:      res.Sources,
			Method:    string(res.Stage),
		},
	})
	if err != nil {
		log.Printf("retrieval: write-back failed err=%v", err)
		p.countExternalError("store")
		return err
	}
	if p.metrics != nil {
		p.metrics.FactsRemembered.WithLabelValues(string(source)).Inc()
	}
	return nil
}

func (p *Planner) countStage(stage Stage, outcome string) {
	if p.metrics != nil {
		p.metrics.CascadeStages.WithLabelValues(string(stage), outcome).Inc()
	}
}

func (p *Planner) countExternalError(capability string) {
	if p.metrics != nil {
		p.metrics.ExternalErrors.WithLabelValues(capability).Inc()
	}
}

func (p *Planner) observeStage(stage Stage, start time.Time) {
	if p.window != nil {
		p.window.Observe(string(stage), float64(time.Since(start).Milliseconds()))
	}
}
