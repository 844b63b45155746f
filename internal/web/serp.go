package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/govsight/internal/reliability"
)

const serpEndpoint = "https://serpapi.com/search.json"

// SerpSearcher wraps a SerpAPI-compatible search service and flattens its
// response into plain results: organic hits, the answer box, the knowledge
// graph card and top stories, deduplicated by URL.
type SerpSearcher struct {
	endpoint string
	apiKey   string
	engine   string
	client   *http.Client
}

func NewSerpSearcher(endpoint, apiKey string, timeout time.Duration) *SerpSearcher {
	if endpoint == "" {
		endpoint = serpEndpoint
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &SerpSearcher{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   apiKey,
		engine:   "google",
		client:   &http.Client{Timeout: timeout},
	}
}

type serpResponse struct {
	OrganicResults []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic_results"`
	AnswerBox *struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Result  string `json:"result"`
	} `json:"answer_box"`
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Source      string `json:"source"`
		Description string `json:"description"`
	} `json:"knowledge_graph"`
	TopStories []struct {
		Title  string `json:"title"`
		Link   string `json:"link"`
		Source string `json:"source"`
	} `json:"top_stories"`
}

func (s *SerpSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, reliability.ExponentialBackoff(attempt-1, fetchBackoffBase, fetchBackoffCap)); err != nil {
				return nil, err
			}
		}

		results, retryable, err := s.searchOnce(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (s *SerpSearcher) searchOnce(ctx context.Context, query string, limit int) (results []Result, retryable bool, err error) {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("engine", s.engine)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit))
	params.Set("output", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("send search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, reliability.IsRetryableHTTPStatus(res.StatusCode), fmt.Errorf("search http status %d: %s", res.StatusCode, string(body))
	}

	var raw serpResponse
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("decode search response: %w", err)
	}
	return flattenSerp(raw, limit), false, nil
}

func flattenSerp(raw serpResponse, limit int) []Result {
	var results []Result

	n := len(raw.OrganicResults)
	if n > limit {
		n = limit
	}
	for _, item := range raw.OrganicResults[:n] {
		results = append(results, Result{
			Title:      item.Title,
			URL:        item.Link,
			Snippet:    item.Snippet,
			SourceType: "organic",
		})
	}

	if ab := raw.AnswerBox; ab != nil {
		title := ab.Title
		if title == "" {
			title = "Answer Box"
		}
		snippet := ab.Snippet
		if snippet == "" {
			snippet = ab.Result
		}
		results = append(results, Result{Title: title, URL: ab.Link, Snippet: snippet, SourceType: "answer_box"})
	}

	if kg := raw.KnowledgeGraph; kg != nil {
		results = append(results, Result{Title: kg.Title, URL: kg.Source, Snippet: kg.Description, SourceType: "knowledge_graph"})
	}

	for i, story := range raw.TopStories {
		if i == limit {
			break
		}
		results = append(results, Result{Title: story.Title, URL: story.Link, Snippet: story.Source, SourceType: "top_story"})
	}

	seen := make(map[string]bool, len(results))
	deduped := results[:0]
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		deduped = append(deduped, r)
		if len(deduped) == limit {
			break
		}
	}
	return deduped
}
