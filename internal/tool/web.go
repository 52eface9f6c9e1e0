package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	maxFetchSize = 50 * 1024 // 50KB text output
	fetchTimeout = 30 * time.Second
)

// WebFetchTool fetches a URL and extracts readable content so the guide can
// reference live pages during a run.
type WebFetchTool struct{}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and extract readable text content" }
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to fetch"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL := getString(params, "url")
	if rawURL == "" {
		return "", fmt.Errorf("web_fetch: url is required")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("web_fetch: invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("web_fetch: %w", err)
	}
	req.Header.Set("User-Agent", "sensei/1.0")

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web_fetch: HTTP %d", resp.StatusCode)
	}

	// Non-HTML content is returned raw, truncated.
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxFetchSize)))
		return string(body), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("web_fetch: parse: %w", err)
	}

	var textBuf bytes.Buffer
	if err := article.RenderText(&textBuf); err != nil {
		return "", fmt.Errorf("web_fetch: render: %w", err)
	}

	text := textBuf.String()
	if len(text) > maxFetchSize {
		text = text[:maxFetchSize] + "\n... [truncated]"
	}
	return fmt.Sprintf("Title: %s\nURL: %s\n\n%s", article.Title(), rawURL, text), nil
}
