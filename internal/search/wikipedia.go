package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"learnbot/internal/summarizer"
)

// Wikipedia looks a query up with the opensearch API and returns the first
// sentences of the best page's summary.
type Wikipedia struct {
	client    *http.Client
	baseURL   string
	userAgent string
	sentences int
}

// NewWikipedia creates a provider against baseURL, or English Wikipedia when
// empty.
func NewWikipedia(client *http.Client, baseURL, userAgent string) *Wikipedia {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org"
	}
	return &Wikipedia{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		sentences: 2,
	}
}

// Search returns "" when no page matches or the best match is a
// disambiguation page.
func (w *Wikipedia) Search(ctx context.Context, query string) (string, error) {
	title, err := w.topTitle(ctx, query)
	if err != nil || title == "" {
		return "", err
	}
	var page struct {
		Type    string `json:"type"`
		Extract string `json:"extract"`
	}
	status, err := w.getJSON(ctx, w.baseURL+"/api/rest_v1/page/summary/"+url.PathEscape(strings.ReplaceAll(title, " ", "_")), &page)
	if status == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("wikipedia summary: %w", err)
	}
	if page.Type == "disambiguation" || strings.TrimSpace(page.Extract) == "" {
		return "", nil
	}
	return summarizer.Shorten(page.Extract, w.sentences), nil
}

func (w *Wikipedia) topTitle(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"action":    {"opensearch"},
		"search":    {query},
		"limit":     {"1"},
		"namespace": {"0"},
		"format":    {"json"},
	}
	// [query, [titles], [descriptions], [urls]]
	var out []json.RawMessage
	if _, err := w.getJSON(ctx, w.baseURL+"/w/api.php?"+params.Encode(), &out); err != nil {
		return "", fmt.Errorf("wikipedia opensearch: %w", err)
	}
	if len(out) < 2 {
		return "", nil
	}
	var titles []string
	if err := json.Unmarshal(out[1], &titles); err != nil {
		return "", fmt.Errorf("decoding opensearch titles: %w", err)
	}
	if len(titles) == 0 {
		return "", nil
	}
	return titles[0], nil
}

func (w *Wikipedia) getJSON(ctx context.Context, u string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
