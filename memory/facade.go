package memory

import (
	"context"

	"github.com/deepresearch/orchestrator/domain"
)

// Memory is the unified persistence facade the pipeline and API layers
// depend on, composing semantic recall with structured learning state.
type Memory struct {
	Vectors VectorStore
	Store   *Store
}

// New builds a Memory facade around the given backends.
func New(vectors VectorStore, store *Store) *Memory {
	return &Memory{Vectors: vectors, Store: store}
}

// Recall returns prior facts related to query within dom, for seeding Plan
// with context accumulated across earlier sessions (spec §4.7).
func (m *Memory) Recall(ctx context.Context, queryEmbedding Embedding, dom domain.Domain, topK int) ([]VectorMatch, error) {
	return m.Vectors.Search(ctx, queryEmbedding, topK, string(dom))
}

// Remember persists newly extracted facts as vector records for future
// recall.
func (m *Memory) Remember(ctx context.Context, sessionID string, dom domain.Domain, facts []*domain.Fact, embed func(text string) Embedding) error {
	records := make([]VectorRecord, 0, len(facts))
	for _, f := range facts {
		records = append(records, VectorRecord{
			ID:        f.ID,
			SessionID: sessionID,
			Domain:    string(dom),
			Text:      f.Statement,
			Embedding: embed(f.Statement),
		})
	}
	if len(records) == 0 {
		return nil
	}
	return m.Vectors.Add(ctx, records)
}
