package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// DuckDuckGo scrapes result snippets from the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	client     *http.Client
	baseURL    string
	userAgent  string
	maxResults int
}

func NewDuckDuckGo(client *http.Client, baseURL, userAgent string) *DuckDuckGo {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = "https://html.duckduckgo.com"
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}
	return &DuckDuckGo{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		maxResults: 3,
	}
}

// Search joins up to three result snippets with spaces.
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("%s/html/?q=%s", d.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	return strings.Join(snippets(doc, d.maxResults), " "), nil
}

// snippets collects the text of up to max elements classed result__snippet.
func snippets(doc *html.Node, max int) []string {
	var out []string
	var find func(*html.Node)
	find = func(n *html.Node) {
		if len(out) >= max {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			if text := textContent(n); text != "" {
				out = append(out, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" && strings.Contains(attr.Val, class) {
			return true
		}
	}
	return false
}

// textContent returns the whitespace-normalized text within a node.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
