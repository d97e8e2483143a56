package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/resilience"
)

// TavilyProvider is a general web search backend, enabled by TAVILY_API_KEY.
type TavilyProvider struct {
	apiKey string
	client *http.Client
}

func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *TavilyProvider) name() string { return "tavily" }
func (p *TavilyProvider) rps() float64 { return 2 }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

func (p *TavilyProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	body, err := json.Marshal(tavilyRequest{APIKey: p.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("tavily: status %d", resp.StatusCode)}
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(out.Results))
	for _, r := range out.Results {
		entities = append(entities, domain.Entity{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	return entities, nil
}
