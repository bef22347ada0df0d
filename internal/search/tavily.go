package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyProvider implements Provider using the Tavily search API, the only
// backend that honours Options.Depth.
type TavilyProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavilyProvider creates a Tavily provider. An empty endpoint uses the
// public API.
func NewTavilyProvider(apiKey, endpoint string) *TavilyProvider {
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	return &TavilyProvider{apiKey: apiKey, endpoint: endpoint, client: defaultHTTPClient}
}

func (p *TavilyProvider) Name() string    { return "tavily" }
func (p *TavilyProvider) Available() bool { return p.apiKey != "" }

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (p *TavilyProvider) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	depth := strings.ToLower(strings.TrimSpace(opts.Depth))
	if depth != DepthBasic && depth != DepthAdvanced {
		depth = DepthAdvanced
	}
	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: opts.limit(), SearchDepth: depth})
	if err != nil {
		return nil, fmt.Errorf("encode tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	results, err := parseTavilyJSON(data)
	if err != nil {
		return nil, err
	}
	return truncate(results, opts.limit()), nil
}

// parseTavilyJSON keeps the provider's ranking order.
func parseTavilyJSON(data []byte) ([]Result, error) {
	var resp tavilyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse tavily response: %w", err)
	}
	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return results, nil
}
