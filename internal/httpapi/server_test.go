package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antoniostano/govsight/internal/config"
	"github.com/antoniostano/govsight/internal/constraints"
	"github.com/antoniostano/govsight/internal/convo"
	"github.com/antoniostano/govsight/internal/engine"
	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/nlu"
	"github.com/antoniostano/govsight/internal/retrieval"
	"github.com/antoniostano/govsight/internal/watchlist"
)

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, _, _ string) (nlu.Classification, error) {
	return nlu.Classification{Intent: nlu.IntentFactLookup, NeedsRetrieval: true}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _ string) (constraints.Map, error) {
	return constraints.Map{}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, _ retrieval.Request) (retrieval.Resolution, error) {
	return retrieval.Resolution{Answer: "Tommy Brandt", Stage: retrieval.StageStructured, Confidence: 1.0, Exact: true}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, _ []memory.Message) (nlu.Summary, error) {
	return nlu.Summary{Text: "summary"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, memory.Store) {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	store := memory.NewInMemoryStore()
	tracker := watchlist.NewTracker(store, nil)
	eng := engine.New(engine.Deps{
		Store:      store,
		Convos:     convo.NewManager(convo.DefaultCapacity, cfg.SessionInactivityTimeout),
		Classifier: stubClassifier{},
		Extractor:  stubExtractor{},
		Parser:     nlu.NewChainParser(nlu.RegexParser{}),
		Summarizer: stubSummarizer{},
		Resolver:   stubResolver{},
		Tracker:    tracker,
	})

	srv := New(cfg, eng, store, tracker, nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"profile": "citygov"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created struct {
		SessionID int64 `json:"session_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == 0 {
		t.Fatalf("missing session_id in create response")
	}

	chatRes := postJSON(t, ts.URL+"/v1/chat", map[string]any{
		"session_id": created.SessionID,
		"text":       "Who is the mayor of Grandview, TX?",
	})
	defer chatRes.Body.Close()
	if chatRes.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", chatRes.StatusCode, http.StatusOK)
	}
	var turn struct {
		Answer string `json:"answer"`
		Stage  string `json:"stage"`
	}
	if err := json.NewDecoder(chatRes.Body).Decode(&turn); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if turn.Answer != "Tommy Brandt" || turn.Stage != "structured" {
		t.Fatalf("chat turn = %+v", turn)
	}

	msgRes, err := http.Get(ts.URL + "/v1/sessions/1/messages")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	defer msgRes.Body.Close()
	var msgs struct {
		Messages []memory.Message `json:"messages"`
	}
	if err := json.NewDecoder(msgRes.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs.Messages))
	}

	closeRes := postJSON(t, ts.URL+"/v1/sessions/1/close", nil)
	defer closeRes.Body.Close()
	if closeRes.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d, want %d", closeRes.StatusCode, http.StatusOK)
	}
}

func TestChatUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]any{"session_id": 404, "text": "hello"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestFactEndpoints(t *testing.T) {
	ts, store := newTestServer(t)

	_, err := store.Remember(context.Background(), memory.RememberParams{
		SubjectType: memory.SubjectCity,
		SubjectSlug: "grandview_tx",
		Attribute:   "mayor",
		Value:       "Tommy Brandt",
		Source:      memory.SourceUser,
		Confidence:  1.0,
	})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/facts/latest?subject=grandview_tx&attribute=mayor")
	if err != nil {
		t.Fatalf("GET latest fact error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latest fact status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var fact memory.Fact
	if err := json.NewDecoder(res.Body).Decode(&fact); err != nil {
		t.Fatalf("decode fact: %v", err)
	}
	if fact.Value != "Tommy Brandt" || !fact.IsLatest {
		t.Fatalf("fact = %+v", fact)
	}

	missRes, err := http.Get(ts.URL + "/v1/facts/latest?subject=nowhere_zz&attribute=mayor")
	if err != nil {
		t.Fatalf("GET miss error = %v", err)
	}
	defer missRes.Body.Close()
	if missRes.StatusCode != http.StatusNotFound {
		t.Fatalf("miss status = %d, want %d", missRes.StatusCode, http.StatusNotFound)
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/watchlist", map[string]any{
		"topic":       "Grandview water report",
		"entity_name": "Grandview",
		"frequency":   "weekly",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create watch status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	badRes := postJSON(t, ts.URL+"/v1/watchlist", map[string]any{"topic": "  "})
	defer badRes.Body.Close()
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty topic status = %d, want %d", badRes.StatusCode, http.StatusBadRequest)
	}

	deactRes := postJSON(t, ts.URL+"/v1/watchlist/1/deactivate", nil)
	defer deactRes.Body.Close()
	if deactRes.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status = %d, want %d", deactRes.StatusCode, http.StatusOK)
	}

	listRes, err := http.Get(ts.URL + "/v1/watchlist")
	if err != nil {
		t.Fatalf("GET watchlist error = %v", err)
	}
	defer listRes.Body.Close()
	var list struct {
		Watchlist []memory.WatchlistItem `json:"watchlist"`
	}
	if err := json.NewDecoder(listRes.Body).Decode(&list); err != nil {
		t.Fatalf("decode watchlist: %v", err)
	}
	if len(list.Watchlist) != 0 {
		t.Fatalf("active watchlist = %+v, want empty after deactivation", list.Watchlist)
	}
}
