// Package classify detects a query's research domain and loads the
// per-domain playbook that configures provider priority, saturation
// thresholds, and verification policy for the rest of the pipeline.
package classify

import (
	"context"
	"strings"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/llm"
	"go.uber.org/zap"
)

// keywordDictionary maps a domain to the stemmed terms whose presence in a
// query is strong evidence for that domain (spec §4.2: "keyword match
// first, LLM classification as fallback when no dictionary matches").
var keywordDictionary = map[domain.Domain][]string{
	domain.DomainMedical: {
		"symptom", "diagnosis", "treatment", "drug", "dosage", "clinical trial",
		"disease", "patient", "therapy", "side effect", "fda approval",
	},
	domain.DomainRegulatory: {
		"regulation", "compliance", "statute", "law", "directive", "policy",
		"legislation", "gdpr", "sec filing", "enforcement",
	},
	domain.DomainAcademic: {
		"research paper", "study", "hypothesis", "peer-reviewed", "citation",
		"methodology", "journal", "dataset", "experiment",
	},
	domain.DomainCompetitiveIntelligence: {
		"competitor", "market share", "pricing", "product launch", "funding round",
		"acquisition", "earnings", "roadmap",
	},
}

// Classifier assigns a Domain to a query.
type Classifier struct {
	router *llm.Router
	logger *zap.Logger
}

// NewClassifier builds a Classifier; router may be nil to disable the LLM
// fallback (keyword-only classification, always landing on DomainGeneral
// when no keyword matches).
func NewClassifier(router *llm.Router, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{router: router, logger: logger.With(zap.String("component", "classifier"))}
}

// Classify returns the best-matching domain for query.
func (c *Classifier) Classify(ctx context.Context, query string, privacy domain.PrivacyMode) domain.Domain {
	if d, ok := classifyByKeyword(query); ok {
		return d
	}

	if c.router == nil {
		return domain.DomainGeneral
	}

	d, err := c.classifyByLLM(ctx, query, privacy)
	if err != nil {
		c.logger.Warn("llm classification fallback failed, defaulting to general", zap.Error(err))
		return domain.DomainGeneral
	}
	return d
}

func classifyByKeyword(query string) (domain.Domain, bool) {
	lower := strings.ToLower(query)
	best := domain.Domain("")
	bestHits := 0
	for d, terms := range keywordDictionary {
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = d
		}
	}
	if bestHits == 0 {
		return "", false
	}
	return best, true
}

var knownDomains = []domain.Domain{
	domain.DomainMedical, domain.DomainRegulatory, domain.DomainAcademic,
	domain.DomainCompetitiveIntelligence, domain.DomainGeneral,
}

func (c *Classifier) classifyByLLM(ctx context.Context, query string, privacy domain.PrivacyMode) (domain.Domain, error) {
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Classify the research query into exactly one domain: medical, regulatory, academic, competitive_intelligence, or general. Reply with only the domain label."},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens: 16,
	}

	out, err := c.router.Complete(ctx, llm.TierLocalFast, privacy, req)
	if err != nil {
		return "", err
	}

	label := strings.ToLower(strings.TrimSpace(out))
	for _, d := range knownDomains {
		if strings.Contains(label, string(d)) {
			return d, nil
		}
	}
	return domain.DomainGeneral, nil
}
