// Package memory implements the persistent Memory Layer (C7): a vector
// store for semantic recall across past sessions, and a structured store
// (sessions, source effectiveness, access failures, domain overrides) that
// feeds back into provider selection and domain playbooks.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
)

// embeddingDimensions is the fixed width of a hash-bucketed embedding
// produced by EmbedText.
const embeddingDimensions = 64

// EmbedText builds a deterministic bag-of-words embedding for text by
// hashing each non-stop-word token into one of embeddingDimensions buckets.
// It stands in for a real embedding-model client: nothing in the wired
// dependency set exposes one, and recall only needs facts with similar
// vocabulary to cluster together, not true semantic similarity.
func EmbedText(text string) Embedding {
	vec := make(Embedding, embeddingDimensions)
	for token := range domain.TokenizeNonStopWords(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%embeddingDimensions]++
	}
	return vec
}

// Embedding is a dense vector representation of a fact or entity summary.
type Embedding []float64

// VectorRecord is a unit of recall: a fact statement plus its source
// provenance and embedding.
type VectorRecord struct {
	ID        string
	SessionID string
	Domain    string
	Text      string
	Embedding Embedding
}

// VectorMatch pairs a stored record with its similarity to a query.
type VectorMatch struct {
	Record     VectorRecord
	Similarity float64
}

// VectorStore is the semantic-recall capability (spec §4.7): find prior
// facts related to a new query so Plan can seed a session with known
// context instead of rediscovering it from scratch.
type VectorStore interface {
	Add(ctx context.Context, records []VectorRecord) error
	Search(ctx context.Context, queryEmbedding Embedding, topK int, domain string) ([]VectorMatch, error)
	Count(ctx context.Context) (int, error)
}

// InMemoryVectorStore is the default VectorStore: cosine similarity over an
// in-process slice. Adequate for a single-process deployment; swap for a
// Mongo-backed store (see mongo.go) when recall must survive a restart or
// span processes.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	records []VectorRecord
	logger  *zap.Logger
}

// NewInMemoryVectorStore builds an empty in-process vector store.
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{logger: logger.With(zap.String("component", "vector_store"))}
}

func (s *InMemoryVectorStore) Add(ctx context.Context, records []VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("memory: record %s has no embedding", r.ID)
		}
		s.records = append(s.records, r)
	}
	s.logger.Debug("vector records added", zap.Int("count", len(records)), zap.Int("total", len(s.records)))
	return nil
}

func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding Embedding, topK int, domain string) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]VectorMatch, 0, len(s.records))
	for _, r := range s.records {
		if domain != "" && r.Domain != domain {
			continue
		}
		matches = append(matches, VectorMatch{Record: r, Similarity: cosineSimilarity(queryEmbedding, r.Embedding)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func cosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
