package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/classify"
	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRecallsPriorFactsForDomain(t *testing.T) {
	vectors := memory.NewInMemoryVectorStore(nil)
	mem := memory.New(vectors, nil)
	ctx := context.Background()

	require.NoError(t, vectors.Add(ctx, []memory.VectorRecord{
		{ID: "f1", SessionID: "prior", Domain: string(domain.DomainMedical), Text: "aspirin reduces clotting risk", Embedding: memory.EmbedText("aspirin reduces clotting risk")},
	}))

	classifier := classify.NewClassifier(nil, nil)
	playbooks := classify.NewPlaybookLoader(nil, nil)
	node := NewPlanNode(classifier, playbooks, mem, memory.EmbedText, nil)

	sess := domain.NewSession("sess-plan", "what is the recommended dosage for aspirin", domain.PrivacyCloudAllowed, time.Now())

	result := node.Run(ctx, sess)

	require.Equal(t, domain.PhaseCollect, result.NextPhase)
	assert.Equal(t, domain.DomainMedical, sess.Domain)
	assert.Contains(t, sess.RecalledFacts, "aspirin reduces clotting risk")
}

func TestPlanSkipsRecallWithoutRecaller(t *testing.T) {
	classifier := classify.NewClassifier(nil, nil)
	playbooks := classify.NewPlaybookLoader(nil, nil)
	node := NewPlanNode(classifier, playbooks, nil, nil, nil)

	sess := domain.NewSession("sess-plan2", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseCollect, result.NextPhase)
	assert.Empty(t, sess.RecalledFacts)
}
