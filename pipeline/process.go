package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxEntityChars bounds the content window sent to the LLM per entity
// (spec §4.9.4, and §9's Open Question: truncation is pinned per-entity).
const maxEntityChars = 8000

// extractedFact is the tolerant JSON shape the extraction prompt asks for.
type extractedFact struct {
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
}

// ProcessNode extracts structured facts from every Entity that carries
// content, deduplicating across the whole session by statement hash.
type ProcessNode struct {
	router *llm.Router
	tier   llm.Tier
	logger *zap.Logger
}

func NewProcessNode(router *llm.Router, tier llm.Tier, logger *zap.Logger) *ProcessNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tier == "" {
		tier = llm.TierLocalFast
	}
	return &ProcessNode{router: router, tier: tier, logger: logger.With(zap.String("component", "process_node"))}
}

func (n *ProcessNode) Name() string { return "process" }

func (n *ProcessNode) Run(ctx context.Context, sess *domain.Session) Result {
	newFacts := 0

	for _, key := range sess.EntityOrder {
		entity := sess.Entities[key]
		if entity.FullText == "" {
			continue
		}

		facts, err := n.extractFacts(ctx, sess, entity)
		if err != nil {
			n.logger.Warn("fact extraction failed, dropping document",
				zap.String("url", entity.URL), zap.Error(err))
			continue
		}

		for _, ef := range facts {
			statement := strings.TrimSpace(ef.Statement)
			if statement == "" {
				continue
			}
			hash := domain.FactHash(statement)
			if _, exists := sess.Facts[hash]; exists {
				continue
			}
			sess.Facts[hash] = &domain.Fact{
				ID:          uuid.NewString(),
				Statement:   statement,
				Source:      entity.URL,
				Confidence:  clamp01(ef.Confidence),
				ExtractedBy: "llm",
			}
			newFacts++
		}
	}

	n.logger.Info("process cycle complete", zap.String("session", sess.ID), zap.Int("new_facts", newFacts))
	return Result{NextPhase: domain.PhaseAnalyze}
}

func (n *ProcessNode) extractFacts(ctx context.Context, sess *domain.Session, entity *domain.Entity) ([]extractedFact, error) {
	content := entity.FullText
	if len(content) > maxEntityChars {
		content = content[:maxEntityChars]
	}

	prompt := fmt.Sprintf(
		"Query: %s\n\nExtract factual statements relevant to the query from the following content. "+
			"Return a JSON array of objects shaped {\"statement\": string, \"confidence\": number between 0 and 1}. "+
			"Only include statements directly supported by the text.\n\nContent:\n%s",
		sess.RefinedQuery, content,
	)

	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You extract factual claims as strict JSON. Output only the JSON array, no commentary."},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.0,
		MaxTokens:   1024,
	}

	out, err := n.router.Complete(ctx, n.tier, sess.PrivacyMode, req)
	if err != nil {
		// One retry on timeout/transient failure, then drop (spec §4.9.4).
		// The idempotency key, derived from the entity URL and prompt, is
		// logged with the retry only; the backend transport itself is not
		// idempotency-aware.
		key := entityContentHash(entity.URL, prompt)
		n.logger.Debug("retrying fact extraction", zap.String("url", entity.URL), zap.String("idempotency_key", key))
		out, err = n.router.Complete(ctx, n.tier, sess.PrivacyMode, req)
		if err != nil {
			return nil, err
		}
	}

	return parseFactsTolerant(out)
}

// parseFactsTolerant strips Markdown code fences before decoding, since
// LLMs routinely wrap JSON output in ```json ... ``` blocks.
func parseFactsTolerant(raw string) ([]extractedFact, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var facts []extractedFact
	if err := json.Unmarshal([]byte(trimmed), &facts); err != nil {
		return nil, fmt.Errorf("pipeline: parse extracted facts: %w", err)
	}
	return facts, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// entityContentHash derives the idempotency key logged with a fact
// extraction retry from the entity URL and prompt.
func entityContentHash(url, prompt string) string {
	sum := sha256.Sum256([]byte(url + "|" + prompt))
	return hex.EncodeToString(sum[:8])
}
