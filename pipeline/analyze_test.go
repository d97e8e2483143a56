package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionWithFacts(facts ...*domain.Fact) *domain.Session {
	sess := domain.NewSession("sess-analyze", "when was the company founded", domain.PrivacyCloudAllowed, time.Now())
	for _, f := range facts {
		sess.Facts[domain.FactHash(f.Statement)] = f
	}
	return sess
}

func TestAnalyzeDetectsYearContradiction(t *testing.T) {
	factA := &domain.Fact{ID: "a", Statement: "acme corp was founded in 2010", Source: "https://a.example.com", Confidence: 0.7}
	factB := &domain.Fact{ID: "b", Statement: "acme corp was founded in 2015", Source: "https://b.example.com", Confidence: 0.7}

	sess := newTestSessionWithFacts(factA, factB)
	node := NewAnalyzeNode(nil)
	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseVerify, result.NextPhase)
	require.Len(t, sess.Contradictions, 1)
	assert.Equal(t, domain.ConflictYear, sess.Contradictions[0].Kind)
	assert.True(t, factA.InContradiction)
	assert.True(t, factB.InContradiction)
}

func TestAnalyzeGroupsSimilarStatements(t *testing.T) {
	factA := &domain.Fact{ID: "a", Statement: "wheat yields decline under prolonged drought conditions", Source: "https://a.example.com", Confidence: 0.6}
	factB := &domain.Fact{ID: "b", Statement: "wheat yields decline during prolonged drought conditions", Source: "https://b.example.com", Confidence: 0.6}
	factC := &domain.Fact{ID: "c", Statement: "coffee prices rose in brazil this quarter", Source: "https://c.example.com", Confidence: 0.6}

	sess := newTestSessionWithFacts(factA, factB, factC)
	node := NewAnalyzeNode(nil)
	node.Run(context.Background(), sess)

	require.Len(t, sess.Groups, 2)

	var wheatGroup *domain.FactGroup
	for _, g := range sess.Groups {
		if len(g.Facts) == 2 {
			wheatGroup = g
		}
	}
	require.NotNil(t, wheatGroup)
	assert.Len(t, wheatGroup.UniqueSources, 2)
}

func TestFinalConfidenceFormula(t *testing.T) {
	assert.InDelta(t, 0.1, finalConfidence(0.1, 0, false), 1e-9)
	assert.InDelta(t, 1.0, finalConfidence(0.9, 3, false), 1e-9)
	assert.InDelta(t, 0.4, finalConfidence(0.7, 0, true), 1e-9)
}

func TestAnalyzeDetectsYearContradictionWithoutTopicOverlap(t *testing.T) {
	factA := &domain.Fact{ID: "a", Statement: "founded in 2010", Source: "https://a.example.com", Confidence: 0.7}
	factB := &domain.Fact{ID: "b", Statement: "established in 2015", Source: "https://b.example.com", Confidence: 0.7}

	sess := newTestSessionWithFacts(factA, factB)
	node := NewAnalyzeNode(nil)
	node.Run(context.Background(), sess)

	require.Len(t, sess.Contradictions, 1)
	assert.Equal(t, domain.ConflictYear, sess.Contradictions[0].Kind)
}

func TestAnalyzeSkipsContradictionAcrossSameSource(t *testing.T) {
	factA := &domain.Fact{ID: "a", Statement: "founded in 2010", Source: "https://same.example.com", Confidence: 0.5}
	factB := &domain.Fact{ID: "b", Statement: "founded in 2015", Source: "https://same.example.com", Confidence: 0.5}

	sess := newTestSessionWithFacts(factA, factB)
	node := NewAnalyzeNode(nil)
	node.Run(context.Background(), sess)

	assert.Empty(t, sess.Contradictions)
}
