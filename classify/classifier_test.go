package classify

import (
	"context"
	"testing"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassifyByKeywordMedical(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify(context.Background(), "what dosage of ibuprofen is safe during a clinical trial", domain.PrivacyCloudAllowed)
	assert.Equal(t, domain.DomainMedical, got)
}

func TestClassifyByKeywordRegulatory(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify(context.Background(), "new gdpr enforcement directive for data processors", domain.PrivacyCloudAllowed)
	assert.Equal(t, domain.DomainRegulatory, got)
}

func TestClassifyNoKeywordMatchWithoutRouterFallsBackToGeneral(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify(context.Background(), "tell me about the weather patterns in coastal cities", domain.PrivacyCloudAllowed)
	assert.Equal(t, domain.DomainGeneral, got)
}
