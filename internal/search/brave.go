package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider implements Provider using the Brave Search API.
type BraveProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBraveProvider creates a Brave search provider.
func NewBraveProvider(apiKey, endpoint string) *BraveProvider {
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &BraveProvider{apiKey: apiKey, endpoint: endpoint, client: defaultHTTPClient}
}

func (b *BraveProvider) Name() string    { return "brave_search" }
func (b *BraveProvider) Available() bool { return b.apiKey != "" }

func (b *BraveProvider) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse brave endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(opts.limit()))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	results, err := parseBraveJSON(body)
	if err != nil {
		return nil, err
	}
	return truncate(results, opts.limit()), nil
}

// braveResponse matches the relevant fields of the Brave Search API response.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func parseBraveJSON(data []byte) ([]Result, error) {
	var resp braveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}
	results := make([]Result, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Description,
		})
	}
	return results, nil
}
