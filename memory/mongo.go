package memory

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoVectorStore is the multi-process VectorStore backend: recall
// survives a restart and is shared across every researchd instance behind
// a load balancer. Similarity is still computed in-process (Mongo's
// community edition has no native vector index), so this trades network
// latency for durability rather than for search speed.
type MongoVectorStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

type mongoRecord struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	Domain    string    `bson:"domain"`
	Text      string    `bson:"text"`
	Embedding Embedding `bson:"embedding"`
}

// NewMongoVectorStore wraps collection as a VectorStore.
func NewMongoVectorStore(collection *mongo.Collection, logger *zap.Logger) *MongoVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoVectorStore{collection: collection, logger: logger.With(zap.String("component", "mongo_vector_store"))}
}

func (s *MongoVectorStore) Add(ctx context.Context, records []VectorRecord) error {
	docs := make([]any, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("memory: record %s has no embedding", r.ID)
		}
		docs = append(docs, mongoRecord{ID: r.ID, SessionID: r.SessionID, Domain: r.Domain, Text: r.Text, Embedding: r.Embedding})
	}
	if len(docs) == 0 {
		return nil
	}
	_, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("memory: insert vector records: %w", err)
	}
	return nil
}

// Search loads every record matching the domain filter and ranks them
// in-process. Acceptable at the recall scale this system operates at
// (thousands, not millions, of facts per domain); a dedicated vector
// index is out of scope.
func (s *MongoVectorStore) Search(ctx context.Context, queryEmbedding Embedding, topK int, domain string) ([]VectorMatch, error) {
	filter := bson.D{}
	if domain != "" {
		filter = bson.D{{Key: "domain", Value: domain}}
	}

	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: find vector records: %w", err)
	}
	defer cur.Close(ctx)

	var matches []VectorMatch
	for cur.Next(ctx) {
		var rec mongoRecord
		if err := cur.Decode(&rec); err != nil {
			s.logger.Warn("skipping undecodable vector record", zap.Error(err))
			continue
		}
		sim := cosineSimilarity(queryEmbedding, rec.Embedding)
		matches = append(matches, VectorMatch{
			Record:     VectorRecord{ID: rec.ID, SessionID: rec.SessionID, Domain: rec.Domain, Text: rec.Text, Embedding: rec.Embedding},
			Similarity: sim,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("memory: cursor error: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MongoVectorStore) Count(ctx context.Context) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{}, options.Count())
	if err != nil {
		return 0, fmt.Errorf("memory: count vector records: %w", err)
	}
	return int(n), nil
}
