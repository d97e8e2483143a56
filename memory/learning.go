package memory

import (
	"context"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
)

// EmbedFunc produces a semantic embedding for a piece of text, used to seed
// the vector store without a blocking round trip to an embedding API.
type EmbedFunc func(text string) Embedding

// Learner closes the feedback loop at the end of a session: every source
// that contributed a surviving finding gets a positive effectiveness
// observation, every other queried source gets a negative one, and the
// session's findings are written into the vector store for future recall
// (spec §4.7, §4.10).
type Learner struct {
	store  *Store
	mem    *Memory
	embed  EmbedFunc
	logger *zap.Logger
}

// NewLearner wires a Learner around store and mem. embed defaults to
// EmbedText when nil.
func NewLearner(store *Store, mem *Memory, embed EmbedFunc, logger *zap.Logger) *Learner {
	if embed == nil {
		embed = EmbedText
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{store: store, mem: mem, embed: embed, logger: logger.With(zap.String("component", "learner"))}
}

// Learn updates source effectiveness for every provider queried this
// session and remembers its surviving facts for future recall. Called once,
// at the terminal phase of a session.
func (l *Learner) Learn(ctx context.Context, sess *domain.Session) error {
	if l == nil || sess == nil {
		return nil
	}

	contributed := make(map[string]bool, len(sess.ProvidersQueried))
	if sess.Report != nil {
		for _, f := range sess.Report.Findings {
			entity, ok := sess.Entities[f.Source]
			if !ok || entity.Provider == "" {
				continue
			}
			contributed[entity.Provider] = true
		}
	}

	for _, provider := range sess.ProvidersQueried {
		outcome := 0.0
		if contributed[provider] {
			outcome = 1.0
		}
		if l.store != nil {
			if err := l.store.UpdateEffectiveness(ctx, sess.Domain, provider, outcome); err != nil {
				l.logger.Warn("update effectiveness", zap.String("provider", provider), zap.Error(err))
			}
		}
	}

	if l.mem != nil {
		facts := make([]*domain.Fact, 0, len(sess.Facts))
		for _, key := range domain.SortedKeys(sess.Facts) {
			facts = append(facts, sess.Facts[key])
		}
		if err := l.mem.Remember(ctx, sess.ID, sess.Domain, facts, l.embed); err != nil {
			l.logger.Warn("remember facts", zap.String("session", sess.ID), zap.Error(err))
		}
	}

	return nil
}
