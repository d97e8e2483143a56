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

// ExaProvider is a neural/semantic web search backend, enabled by
// EXA_API_KEY — useful for competitive-intelligence style queries.
type ExaProvider struct {
	apiKey string
	client *http.Client
}

func NewExaProvider(apiKey string) *ExaProvider {
	return &ExaProvider{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *ExaProvider) name() string { return "exa" }
func (p *ExaProvider) rps() float64 { return 2 }

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
}

type exaResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Score float64 `json:"score"`
}

type exaResponse struct {
	Results []exaResult `json:"results"`
}

func (p *ExaProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	body, err := json.Marshal(exaRequest{Query: query, NumResults: maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.exa.ai/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("exa: status %d", resp.StatusCode)}
	}

	var out exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(out.Results))
	for _, r := range out.Results {
		entities = append(entities, domain.Entity{URL: r.URL, Title: r.Title, Snippet: r.Text, Score: r.Score})
	}
	return entities, nil
}
