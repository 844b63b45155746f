package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter queries a vector-index HTTP service. The service contract is
// {"text": ..., "top_k": N} in, {"matches": [{id, score, metadata}]} out.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

func (a *HTTPAdapter) Query(ctx context.Context, text string, topK int) ([]Match, error) {
	payload, err := json.Marshal(queryRequest{Text: text, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("semantic index http status %d: %s", res.StatusCode, string(body))
	}

	var out queryResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	return out.Matches, nil
}

// MockAdapter returns scripted matches, for tests and offline runs.
type MockAdapter struct {
	Matches []Match
	Err     error
	Calls   int
}

func (m *MockAdapter) Query(_ context.Context, _ string, _ int) ([]Match, error) {
	m.Calls++
	return m.Matches, m.Err
}
