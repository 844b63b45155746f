// Package engine orchestrates one conversational turn end to end:
// classification, constraint merge, the retrieval cascade, persistence and
// watchlist inspection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/convo"
	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/nlu"
	"github.com/antoniostano/govsight/internal/observability"
	"github.com/antoniostano/govsight/internal/policy"
	"github.com/antoniostano/govsight/internal/retrieval"
	"github.com/antoniostano/govsight/internal/watchlist"
)

// NoAnswerText is the explicit fallback reply. Its phrasing matches the
// semantic guard's self-poisoning patterns so an indexed copy of this very
// reply can never be recalled as an answer later.
const NoAnswerText = "I do not have information on that yet."

const recentContextTurns = 6

var ErrSessionNotFound = errors.New("session not found")

// Resolver is the cascade surface the engine consumes.
type Resolver interface {
	Resolve(ctx context.Context, req retrieval.Request) (retrieval.Resolution, error)
}

// TurnResult is the outcome of one handled user turn.
type TurnResult struct {
	SessionID    int64           `json:"session_id"`
	Answer       string          `json:"answer"`
	Intent       nlu.Intent      `json:"intent"`
	Stage        retrieval.Stage `json:"stage,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	Sources      []string        `json:"sources,omitempty"`
	NoAnswer     bool            `json:"no_answer,omitempty"`
	WatchCreated bool            `json:"watch_created,omitempty"`
}

type Engine struct {
	store      memory.Store
	convos     *convo.Manager
	classifier nlu.Classifier
	extractor  nlu.Extractor
	parser     nlu.Parser
	summarizer nlu.Summarizer
	responder  nlu.Completer
	resolver   Resolver
	tracker    *watchlist.Tracker
	metrics    *observability.Metrics
}

type Deps struct {
	Store      memory.Store
	Convos     *convo.Manager
	Classifier nlu.Classifier
	Extractor  nlu.Extractor
	Parser     nlu.Parser
	Summarizer nlu.Summarizer
	Responder  nlu.Completer
	Resolver   Resolver
	Tracker    *watchlist.Tracker
	Metrics    *observability.Metrics
}

func New(d Deps) *Engine {
	e := &Engine{
		store:      d.Store,
		convos:     d.Convos,
		classifier: d.Classifier,
		extractor:  d.Extractor,
		parser:     d.Parser,
		summarizer: d.Summarizer,
		responder:  d.Responder,
		resolver:   d.Resolver,
		tracker:    d.Tracker,
		metrics:    d.Metrics,
	}
	// Idle conversations are closed the same way explicit ones are, so
	// their summaries still land in the store.
	e.convos.SetExpireHook(func(c convo.Conversation) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.finalizeSession(ctx, c.SessionID); err != nil {
			log.Printf("engine: expire close failed session=%d err=%v", c.SessionID, err)
		}
	})
	return e
}

// StartSession opens a durable session, registers the live conversation
// and seeds it from the most recent closed session.
func (e *Engine) StartSession(ctx context.Context, profile string) (int64, error) {
	id, err := e.store.StartSession(ctx, profile)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	e.convos.Create(id, profile)

	prior, err := e.store.LatestClosedSession(ctx)
	if err == nil {
		if err := e.convos.SeedFromSession(id, prior); err != nil {
			log.Printf("engine: seed failed session=%d err=%v", id, err)
		}
	} else if err != memory.ErrNotFound {
		log.Printf("engine: prior session lookup failed err=%v", err)
	}

	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("started").Inc()
		e.metrics.ActiveConversations.Set(float64(e.convos.ActiveCount()))
	}
	return id, nil
}

// HandleTurn processes one user utterance and returns the reply.
func (e *Engine) HandleTurn(ctx context.Context, sessionID int64, text string) (TurnResult, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveTurnLatency(time.Since(start))
		}
	}()

	conv, err := e.convos.Get(sessionID)
	if err != nil {
		return TurnResult{}, ErrSessionNotFound
	}

	cls, err := e.classifier.Classify(ctx, text, recentContext(conv.Turns))
	if err != nil {
		// The classifier contract degrades instead of erroring, but guard
		// against misbehaving implementations anyway.
		cls = nlu.Classification{Intent: nlu.IntentChat}
	}

	extracted, err := e.extractor.Extract(ctx, text)
	if err != nil {
		extracted = constraints.Map{}
	}

	cons := extracted
	if cls.InheritsContext {
		if merged, err := e.convos.MergeActive(sessionID, extracted); err == nil {
			cons = merged
		}
	} else if len(extracted) > 0 {
		if err := e.convos.ResetActive(sessionID, extracted); err != nil {
			log.Printf("engine: reset context failed session=%d err=%v", sessionID, err)
		}
	}

	result := TurnResult{SessionID: sessionID, Intent: cls.Intent}

	parsed, _ := e.parser.ParseFact(ctx, text)
	switch {
	case cls.Intent == nlu.IntentCommand:
		result.Answer, result.WatchCreated = e.handleCommand(ctx, text)
	case parsed != nil && !parsed.Question && parsed.Value != "":
		result.Answer = e.rememberAssertion(ctx, sessionID, parsed)
	case cls.NeedsRetrieval || cls.Intent == nlu.IntentFactLookup || cls.Intent == nlu.IntentRecall:
		res, err := e.resolver.Resolve(ctx, retrieval.Request{
			SessionID:   sessionID,
			Query:       text,
			Parsed:      parsed,
			Constraints: cons,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("resolve turn: %w", err)
		}
		result.Stage = res.Stage
		result.Confidence = res.Confidence
		result.Sources = res.Sources
		result.NoAnswer = res.NoAnswer
		result.Answer = res.Answer
		if res.NoAnswer {
			result.Answer = NoAnswerText
		}
	default:
		result.Answer = e.chat(ctx, text, conv)
	}

	if err := e.recordExchange(ctx, sessionID, text, result.Answer, cons, cls.Intent); err != nil {
		return TurnResult{}, fmt.Errorf("persist turn: %w", err)
	}

	if cls.Intent != nlu.IntentCommand && e.tracker != nil {
		if created, _ := e.tracker.InspectTurn(ctx, text, result.Answer); created {
			result.WatchCreated = true
		}
	}
	return result, nil
}

func (e *Engine) handleCommand(ctx context.Context, text string) (string, bool) {
	if e.tracker == nil {
		return "I cannot set up tracking right now.", false
	}
	created, _ := e.tracker.InspectTurn(ctx, text, "")
	if !created {
		return "I could not work out what to track from that.", false
	}
	return "Added to the watchlist.", true
}

func (e *Engine) rememberAssertion(ctx context.Context, sessionID int64, parsed *nlu.ParsedFact) string {
	subjectType := memory.SubjectGeneric
	if parsed.Region != "" {
		subjectType = memory.SubjectCity
	}
	_, err := e.store.Remember(ctx, memory.RememberParams{
		SubjectType: subjectType,
		SubjectSlug: memory.Slugify(parsed.Subject, parsed.Region),
		Attribute:   memory.NormalizeAttribute(parsed.Attribute),
		Value:       parsed.Value,
		Source:      memory.SourceUser,
		Confidence:  1.0,
		Provenance:  memory.Provenance{SessionID: sessionID, Method: "user_assertion"},
	})
	if err != nil {
		log.Printf("engine: remember assertion failed err=%v", err)
		return "I could not save that."
	}
	if e.metrics != nil {
		e.metrics.FactsRemembered.WithLabelValues(string(memory.SourceUser)).Inc()
	}
	return fmt.Sprintf("Noted: the %s of %s is %s.", parsed.Attribute, parsed.Subject, parsed.Value)
}

func (e *Engine) chat(ctx context.Context, text string, conv convo.Conversation) string {
	if e.responder == nil {
		return "Understood."
	}
	reply, err := e.responder.Complete(ctx, "You are a concise civic-data assistant.", recentContext(conv.Turns)+"\nuser: "+text)
	if err != nil || strings.TrimSpace(reply) == "" {
		return "Understood."
	}
	return reply
}

// recordExchange pushes both turns into the live buffer and appends them
// to the durable transcript. A transcript write failure propagates: a
// silently dropped message would corrupt the session's turn ordering.
func (e *Engine) recordExchange(ctx context.Context, sessionID int64, userText, assistantText string, cons constraints.Map, intent nlu.Intent) error {
	if err := e.convos.PushTurn(sessionID, string(memory.RoleUser), userText, cons, string(intent)); err != nil {
		log.Printf("engine: push user turn failed session=%d err=%v", sessionID, err)
	}
	if err := e.convos.PushTurn(sessionID, string(memory.RoleAssistant), assistantText, nil, ""); err != nil {
		log.Printf("engine: push assistant turn failed session=%d err=%v", sessionID, err)
	}

	// The durable transcript outlives the session; mask PII before it lands.
	persistedUser, changed := policy.RedactPII(userText)
	if changed {
		log.Printf("engine: redacted PII from user message session=%d", sessionID)
	}
	if _, err := e.store.AppendMessage(ctx, sessionID, memory.RoleUser, persistedUser, memory.AutoTurnIndex); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if _, err := e.store.AppendMessage(ctx, sessionID, memory.RoleAssistant, assistantText, memory.AutoTurnIndex); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	return nil
}

// Conversation exposes the live conversation snapshot for one session.
func (e *Engine) Conversation(sessionID int64) (convo.Conversation, error) {
	return e.convos.Get(sessionID)
}

// CloseSession ends the live conversation and persists its summary.
func (e *Engine) CloseSession(ctx context.Context, sessionID int64) error {
	if _, err := e.convos.End(sessionID); err != nil && err != convo.ErrNotFound {
		return err
	}
	return e.finalizeSession(ctx, sessionID)
}

func (e *Engine) finalizeSession(ctx context.Context, sessionID int64) error {
	transcript, err := e.store.GetMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	var summary nlu.Summary
	if e.summarizer != nil {
		summary, err = e.summarizer.Summarize(ctx, transcript)
		if err != nil {
			log.Printf("engine: summarize failed session=%d err=%v", sessionID, err)
			summary = nlu.Summary{}
		}
	}

	err = e.store.CloseSession(ctx, sessionID, memory.CloseParams{
		Summary:  summary.Text,
		Entities: summary.Entities,
		Topics:   summary.Topics,
		Actions:  summary.Actions,
	})
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("closed").Inc()
		e.metrics.ActiveConversations.Set(float64(e.convos.ActiveCount()))
	}
	return nil
}

func recentContext(turns []convo.Turn) string {
	if len(turns) > recentContextTurns {
		turns = turns[len(turns)-recentContextTurns:]
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
