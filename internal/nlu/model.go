package nlu

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

// Completer is the minimal completion surface the NLU adapters need.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// HTTPCompleter forwards completion requests to a model-serving HTTP
// endpoint that accepts {"system": ..., "prompt": ...} and answers with
// JSON carrying the text under one of a few common keys, or plain text.
type HTTPCompleter struct {
	url    string
	client *http.Client
}

func NewHTTPCompleter(url string, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCompleter{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(completionRequest{System: system, Prompt: user})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("model http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body)), nil
	}
	return strings.TrimSpace(extractText(obj)), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "completion", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
