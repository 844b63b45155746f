package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/antoniostano/govsight/internal/reliability"
)

const (
	userAgent    = "GovSightBot/1.0 (+https://govsight.local)"
	maxTextChars = 50000

	maxFetchAttempts = 3
	fetchBackoffBase = 250 * time.Millisecond
	fetchBackoffCap  = 2 * time.Second
)

// PageFetcher downloads a page and extracts readable text, stripping the
// usual chrome. Output is capped to bound downstream token cost.
type PageFetcher struct {
	client *http.Client
}

func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PageFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *PageFetcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", nil
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, reliability.ExponentialBackoff(attempt-1, fetchBackoffBase, fetchBackoffCap)); err != nil {
				return "", err
			}
		}

		text, retryable, err := f.fetchOnce(ctx, pageURL)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (f *PageFetcher) fetchOnce(ctx context.Context, pageURL string) (text string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	res, err := f.client.Do(httpReq)
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", reliability.IsRetryableHTTPStatus(res.StatusCode), fmt.Errorf("fetch %s: http status %d", pageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return "", false, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	doc.Find("script, style, noscript, header, footer, nav").Remove()

	return condense(doc.Text()), false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func condense(raw string) string {
	lines := strings.Split(raw, "\n")
	var b strings.Builder
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
		if b.Len() >= maxTextChars {
			break
		}
	}
	text := b.String()
	if len(text) > maxTextChars {
		// Back up to a rune boundary so the cap never splits a character.
		cut := maxTextChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
