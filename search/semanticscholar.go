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

// SemanticScholarProvider is an academic literature search backend, enabled
// by SEMANTIC_SCHOLAR_API_KEY (an empty key still works against the public
// rate-limited tier).
type SemanticScholarProvider struct {
	apiKey string
	client *http.Client
}

func NewSemanticScholarProvider(apiKey string) *SemanticScholarProvider {
	return &SemanticScholarProvider{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *SemanticScholarProvider) name() string { return "semantic_scholar" }
func (p *SemanticScholarProvider) rps() float64 { return 1 }

type s2Paper struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	URL      string `json:"url"`
	Year     int    `json:"year"`
}

type s2Response struct {
	Data []s2Paper `json:"data"`
}

func (p *SemanticScholarProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("fields", "title,abstract,url,year")
	if maxResults > 0 {
		q.Set("limit", strconv.Itoa(maxResults))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.semanticscholar.org/graph/v1/paper/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("semantic_scholar: status %d", resp.StatusCode)}
	}

	var out s2Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(out.Data))
	for _, paper := range out.Data {
		if paper.URL == "" {
			continue
		}
		var published *time.Time
		if paper.Year > 0 {
			t := time.Date(paper.Year, 1, 1, 0, 0, 0, 0, time.UTC)
			published = &t
		}
		entities = append(entities, domain.Entity{
			URL: paper.URL, Title: paper.Title, Snippet: paper.Abstract, PublishedAt: published,
		})
	}
	return entities, nil
}
