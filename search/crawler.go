package search

import (
	"context"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/fetch"
)

// CrawlerProvider is the headless-crawler search variant (spec §4.4): given
// a seed URL list instead of a free-text query, it fetches each directly
// rather than querying a third-party search index. cmd/researchd registers
// it alongside the credentialed providers; POST /crawl/batch does not use
// it and fetches through fetch.Fetcher directly.
type CrawlerProvider struct {
	fetcher *fetch.Fetcher
	seeds   func(query string) []string
}

// NewCrawlerProvider builds a crawler provider; seeds resolves a query to a
// candidate URL list (e.g. a site-specific sitemap lookup).
func NewCrawlerProvider(fetcher *fetch.Fetcher, seeds func(query string) []string) *CrawlerProvider {
	return &CrawlerProvider{fetcher: fetcher, seeds: seeds}
}

func (p *CrawlerProvider) name() string { return "crawler" }
func (p *CrawlerProvider) rps() float64 { return 0.5 }

func (p *CrawlerProvider) doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	urls := p.seeds(query)
	if maxResults > 0 && len(urls) > maxResults {
		urls = urls[:maxResults]
	}

	entities := make([]domain.Entity, 0, len(urls))
	for _, u := range urls {
		result := p.fetcher.Fetch(ctx, u)
		if result.Err != nil && result.Text == "" {
			continue
		}
		entities = append(entities, domain.Entity{URL: u, FullText: result.Text})
	}
	return entities, nil
}
