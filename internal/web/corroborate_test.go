package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/govsight/internal/constraints"
)

type fakeSearcher struct {
	results []Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	return f.results, f.err
}

type fakeFetcher struct {
	texts map[string]string
	calls int
}

func (f *fakeFetcher) FetchText(_ context.Context, url string) (string, error) {
	f.calls++
	text, ok := f.texts[url]
	if !ok {
		return "", errors.New("unreachable")
	}
	return text, nil
}

type scriptedScorer struct {
	scores map[string]float64
	calls  int
}

func (s *scriptedScorer) Score(_ context.Context, _ string, _ constraints.Map, _, url string) (float64, error) {
	s.calls++
	return s.scores[url], nil
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, _ string, _ constraints.Map, findings []Finding) (string, error) {
	if len(findings) == 0 {
		return "no sources", nil
	}
	return "synthesized from " + findings[0].URL, nil
}

func nResults(n int) []Result {
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Result{Title: fmt.Sprintf("r%d", i), URL: fmt.Sprintf("https://x/%d", i)})
	}
	return out
}

func TestCorroborateEarlyStop(t *testing.T) {
	results := nResults(10)
	fetcher := &fakeFetcher{texts: map[string]string{}}
	scorer := &scriptedScorer{scores: map[string]float64{}}
	for i, r := range results {
		fetcher.texts[r.URL] = "doc"
		if i < 4 {
			scorer.scores[r.URL] = 0.9
		}
	}

	c := NewCorroborator(&fakeSearcher{results: results}, fetcher, scorer, fakeSynth{}, Options{})
	out, err := c.Corroborate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Corroborate() error = %v", err)
	}
	if scorer.calls != 3 {
		t.Fatalf("scored %d documents, want early stop after 3 high-confidence hits", scorer.calls)
	}
	if out.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q, want high", out.Confidence)
	}
}

func TestCorroborateSortsByScoreDesc(t *testing.T) {
	results := nResults(3)
	fetcher := &fakeFetcher{texts: map[string]string{
		results[0].URL: "a", results[1].URL: "b", results[2].URL: "c",
	}}
	scorer := &scriptedScorer{scores: map[string]float64{
		results[0].URL: 0.2, results[1].URL: 0.8, results[2].URL: 0.5,
	}}

	c := NewCorroborator(&fakeSearcher{results: results}, fetcher, scorer, fakeSynth{}, Options{})
	out, err := c.Corroborate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Corroborate() error = %v", err)
	}
	if out.Findings[0].Score != 0.8 || out.Findings[2].Score != 0.2 {
		t.Fatalf("findings not sorted desc: %+v", out.Findings)
	}
	if out.Confidence != ConfidenceMedium {
		t.Fatalf("confidence = %q, want medium (one hit past cutoff)", out.Confidence)
	}
}

func TestCorroborateDegradedDocuments(t *testing.T) {
	results := nResults(2)
	// All fetches fail: snippets are scored instead and failures never
	// abort the scan.
	c := NewCorroborator(
		&fakeSearcher{results: results},
		&fakeFetcher{texts: map[string]string{}},
		&scriptedScorer{scores: map[string]float64{}},
		fakeSynth{},
		Options{},
	)
	out, err := c.Corroborate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Corroborate() error = %v", err)
	}
	if len(out.Findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(out.Findings))
	}
	if out.Confidence != ConfidenceLow {
		t.Fatalf("confidence = %q, want low", out.Confidence)
	}
}

func TestCorroborateSearchFailure(t *testing.T) {
	c := NewCorroborator(&fakeSearcher{err: errors.New("quota")}, &fakeFetcher{}, &scriptedScorer{}, fakeSynth{}, Options{})
	if _, err := c.Corroborate(context.Background(), "q", nil); err == nil {
		t.Fatalf("Corroborate() error = nil, want search failure")
	}
}

func TestHeuristicScorer(t *testing.T) {
	cons := constraints.Map{
		"location": constraints.String("Grandview"),
		"topics":   constraints.List(constraints.String("water quality")),
	}
	score, err := HeuristicScorer{}.Score(context.Background(), "q", cons, "Grandview published its water quality report.", "")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score != 1.0 {
		t.Fatalf("Score() = %v, want 1.0", score)
	}

	none, _ := HeuristicScorer{}.Score(context.Background(), "q", cons, "unrelated text", "")
	if none != 0 {
		t.Fatalf("Score() = %v, want 0", none)
	}
}

func TestSerpSearcherFlattens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Errorf("missing q parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"organic_results": [
				{"title": "City site", "link": "https://a", "snippet": "s1", "position": 1},
				{"title": "Duplicate", "link": "https://a", "snippet": "s2", "position": 2}
			],
			"answer_box": {"title": "AB", "link": "https://b", "snippet": "answer"},
			"knowledge_graph": {"title": "KG", "source": "https://c", "description": "desc"}
		}`)
	}))
	defer srv.Close()

	s := NewSerpSearcher(srv.URL, "test-key", time.Second)
	results, err := s.Search(context.Background(), "grandview mayor", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 (organic deduped by URL)", len(results))
	}
	if results[1].SourceType != "answer_box" || results[2].SourceType != "knowledge_graph" {
		t.Fatalf("results = %+v", results)
	}
}

func TestPageFetcherStripsChrome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><style>.x{}</style><script>var x;</script></head>
			<body><nav>menu</nav><p>Council meeting minutes.</p><footer>copyright</footer></body></html>`)
	}))
	defer srv.Close()

	f := NewPageFetcher(time.Second)
	text, err := f.FetchText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchText() error = %v", err)
	}
	if !strings.Contains(text, "Council meeting minutes.") {
		t.Fatalf("body text missing: %q", text)
	}
	for _, stripped := range []string{"menu", "copyright", "var x"} {
		if strings.Contains(text, stripped) {
			t.Fatalf("chrome %q leaked into text: %q", stripped, text)
		}
	}

	if empty, err := f.FetchText(context.Background(), ""); err != nil || empty != "" {
		t.Fatalf("FetchText(\"\") = %q, %v", empty, err)
	}
}

func TestPageFetcherRetriesTransientStatus(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<html><body><p>Budget approved.</p></body></html>`)
	}))
	defer srv.Close()

	f := NewPageFetcher(time.Second)
	text, err := f.FetchText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchText() error = %v", err)
	}
	if !strings.Contains(text, "Budget approved.") {
		t.Fatalf("text = %q", text)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}

func TestPageFetcherDoesNotRetryClientError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewPageFetcher(time.Second)
	if _, err := f.FetchText(context.Background(), srv.URL); err == nil {
		t.Fatal("FetchText() error = nil, want status error")
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestCondenseCapsOnRuneBoundary(t *testing.T) {
	// A multi-byte rune straddling the cap must be dropped whole, not
	// split into invalid bytes.
	long := strings.Repeat("a", maxTextChars-1) + "é"
	got := condense(long)
	if len(got) > maxTextChars {
		t.Fatalf("len(condense()) = %d, want <= %d", len(got), maxTextChars)
	}
	if !utf8.ValidString(got) {
		t.Fatal("condense() produced invalid UTF-8")
	}
	if strings.ContainsRune(got, 'é') {
		t.Fatalf("straddling rune kept: tail = %q", got[len(got)-4:])
	}
}
