package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/resilience"
)

// BraveProvider is a general web search backend, enabled by BRAVE_API_KEY.
type BraveProvider struct {
	apiKey string
	client *http.Client
}

func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *BraveProvider) name() string { return "brave" }
func (p *BraveProvider) rps() float64 { return 1 }

type braveWebResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Desc  string `json:"description"`
}

type braveResponse struct {
	Web struct {
		Results []braveWebResult `json:"results"`
	} `json:"web"`
}

func (p *BraveProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	q := url.Values{}
	q.Set("q", query)
	if maxResults > 0 {
		q.Set("count", strconv.Itoa(maxResults))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.search.brave.com/res/v1/web/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("brave: status %d", resp.StatusCode)}
	}

	var out braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(out.Web.Results))
	for _, r := range out.Web.Results {
		entities = append(entities, domain.Entity{URL: r.URL, Title: r.Title, Snippet: r.Desc})
	}
	return entities, nil
}
