package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// DDGProvider implements Provider by scraping DuckDuckGo's HTML endpoint.
// It needs no credentials and is the fallback of last resort.
type DDGProvider struct {
	endpoint string
	client   *http.Client
}

// NewDDGProvider creates a DuckDuckGo search provider.
func NewDDGProvider(endpoint string) *DDGProvider {
	if endpoint == "" {
		endpoint = ddgEndpoint
	}
	return &DDGProvider{endpoint: endpoint, client: defaultHTTPClient}
}

func (d *DDGProvider) Name() string    { return "duckduckgo" }
func (d *DDGProvider) Available() bool { return true }

func (d *DDGProvider) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "scout/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseHTMLResults(string(body), opts.limit()), nil
}

var (
	reResultLink    = regexp.MustCompile(`(?i)<a[^>]+class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reResultSnippet = regexp.MustCompile(`(?i)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseHTMLResults(html string, limit int) []Result {
	links := reResultLink.FindAllStringSubmatch(html, -1)
	snippets := reResultSnippet.FindAllStringSubmatch(html, -1)

	results := []Result{}
	for i, link := range links {
		if len(link) < 3 {
			continue
		}
		rawURL := link[1]
		// DuckDuckGo wraps URLs in a redirect; extract the actual URL.
		if u, err := url.Parse(rawURL); err == nil {
			if actual := u.Query().Get("uddg"); actual != "" {
				rawURL = actual
			}
		}

		snippet := ""
		if i < len(snippets) && len(snippets[i]) >= 2 {
			snippet = stripTags(snippets[i][1])
		}

		results = append(results, Result{
			Title:   stripTags(link[2]),
			URL:     rawURL,
			Content: snippet,
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(reTag.ReplaceAllString(s, ""))
}
