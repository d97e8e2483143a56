package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/resilience"
)

// UnpaywallProvider resolves a DOI-style query to an open-access copy,
// enabled by UNPAYWALL_EMAIL (required by the Unpaywall API's contract).
type UnpaywallProvider struct {
	email  string
	client *http.Client
}

func NewUnpaywallProvider(email string) *UnpaywallProvider {
	return &UnpaywallProvider{email: email, client: &http.Client{Timeout: 20 * time.Second}}
}

func (p *UnpaywallProvider) name() string { return "unpaywall" }
func (p *UnpaywallProvider) rps() float64 { return 1 }

type unpaywallLocation struct {
	URL string `json:"url_for_pdf"`
}

type unpaywallResponse struct {
	Title        string              `json:"title"`
	IsOA         bool                `json:"is_oa"`
	BestLocation unpaywallLocation   `json:"best_oa_location"`
	Locations    []unpaywallLocation `json:"oa_locations"`
}

// doSearch treats query as a DOI. Collect passes the session's query to
// every ranked provider, so a free-text query reaches this lookup as-is.
func (p *UnpaywallProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	endpoint := fmt.Sprintf("https://api.unpaywall.org/v2/%s?email=%s", url.PathEscape(query), url.QueryEscape(p.email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unpaywall: status %d", resp.StatusCode)}
	}

	var out unpaywallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if !out.IsOA || out.BestLocation.URL == "" {
		return nil, nil
	}
	return []domain.Entity{{URL: out.BestLocation.URL, Title: out.Title}}, nil
}
